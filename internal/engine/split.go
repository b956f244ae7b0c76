package engine

import (
	"mailflow/internal/constants"
	"mailflow/pkg/models"
)

// split builds the view a mailet runs on: the matched recipients plus
// private copies of the mutable parts of the mail. The id, sender and
// content reference are shared with the original. It also returns the
// recipients the matcher did not select.
func split(mail *models.Mail, matched []models.Address) (*models.Mail, []models.Address) {
	view := &models.Mail{
		ID:           mail.ID,
		Sender:       mail.Sender,
		Recipients:   append([]models.Address(nil), matched...),
		Content:      mail.Content,
		State:        mail.State,
		Attributes:   mail.Attributes.Clone(),
		ErrorMessage: mail.ErrorMessage,
		RemoteAddr:   mail.RemoteAddr,
		ReceivedAt:   mail.ReceivedAt,
		LastUpdated:  mail.LastUpdated,
	}
	return view, models.Difference(mail.Recipients, matched)
}

// join folds the view back into the mail once its mailet returned. The
// view's state, attributes, error message, sender and content win. When
// the view was ghosted while unmatched recipients remain, only the view's
// recipients are finished: the mail keeps its state and continues with the
// unmatched recipients.
func join(mail *models.Mail, view *models.Mail, unmatched []models.Address) {
	if view.State == constants.StateGhost && len(unmatched) > 0 {
		mail.Recipients = append([]models.Address(nil), unmatched...)
	} else {
		mail.Recipients = models.Union(view.Recipients, unmatched)
		mail.State = view.State
	}

	if mail.Recipients == nil {
		mail.Recipients = []models.Address{}
	}

	mail.Sender = view.Sender
	mail.Content = view.Content
	mail.Attributes = view.Attributes
	mail.ErrorMessage = view.ErrorMessage
	mail.LastUpdated = view.LastUpdated
}
