package config

// PipelineConfig declares the processors a router is built from.
//
//	pipeline:
//	  processors:
//	    - name: transport
//	      matchers:
//	        - name: external
//	          notmatch: HostIsLocal
//	      rules:
//	        - match: All
//	          mailet: AddHeader
//	          settings: {name: X-Processed, value: "yes"}
//	        - match: external
//	          mailet: ToProcessor
//	          settings: {processor: relay}
type PipelineConfig struct {
	Processors []ProcessorConfig `mapstructure:"processors" json:"processors"`
}

type ProcessorConfig struct {
	Name     string          `mapstructure:"name" json:"name"`
	Matchers []MatcherConfig `mapstructure:"matchers" json:"matchers,omitempty"`
	Rules    []RuleConfig    `mapstructure:"rules" json:"rules"`
}

// MatcherConfig declares a matcher. Exactly one of Match and NotMatch is
// set; NotMatch inverts the result. Children turn the referenced type into
// a composite. Name registers the declaration as an alias within its
// processor and is only meaningful at the top level.
type MatcherConfig struct {
	Name     string          `mapstructure:"name" json:"name,omitempty"`
	Match    string          `mapstructure:"match" json:"match,omitempty"`
	NotMatch string          `mapstructure:"notmatch" json:"notmatch,omitempty"`
	Children []MatcherConfig `mapstructure:"children" json:"children,omitempty"`
}

type RuleConfig struct {
	Match    string                 `mapstructure:"match" json:"match,omitempty"`
	NotMatch string                 `mapstructure:"notmatch" json:"notmatch,omitempty"`
	Mailet   string                 `mapstructure:"mailet" json:"mailet"`
	Settings map[string]interface{} `mapstructure:"settings" json:"settings,omitempty"`
	// OnError is "propagate" (default), "ignore" or "abort".
	OnError string `mapstructure:"on_error" json:"on_error,omitempty"`
}

func (p PipelineConfig) ProcessorNames() []string {
	names := make([]string, 0, len(p.Processors))
	for _, proc := range p.Processors {
		names = append(names, proc.Name)
	}
	return names
}
