package cel

// FilterExpressionExamples are sample expressions for the Expression matcher.
var FilterExpressionExamples = map[string]string{
	"recipient_domain":   `recipient_domain == "example.com"`,
	"sender_domain":      `sender_domain in ["partner.org", "example.net"]`,
	"null_sender":        `sender == ""`,
	"large_mail":         `size > 1048576`,
	"subject_contains":   `subject.contains("[urgent]")`,
	"has_header":         `"x-spam-flag" in headers && headers["x-spam-flag"] == "YES"`,
	"attribute_set":      `"spam.score" in attributes && attributes["spam.score"] > 5.0`,
	"recipient_pattern":  `recipient.matches("^postmaster@")`,
	"combined":           `recipient_domain == "example.com" && size < 10485760`,
	"many_recipients":    `size(recipients) > 50`,
	"from_remote_subnet": `remote_addr.startsWith("10.")`,
}
