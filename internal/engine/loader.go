package engine

import (
	"fmt"
	"io"

	"mailflow/internal/config"
	"mailflow/internal/constants"
	"mailflow/internal/logger"
	apperrors "mailflow/pkg/errors"
	"mailflow/pkg/metrics"
)

func configError(processor, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if processor != "" {
		msg = fmt.Sprintf("processor %q: %s", processor, msg)
	}
	return apperrors.ErrConfig.WithDetail("message", msg).WithDetail("processor", processor)
}

// Loader turns a pipeline declaration into a Router. Every matcher and
// mailet is instantiated up front; any problem fails the whole build.
type Loader struct {
	registry *Registry
	logger   logger.Logger
}

func NewLoader(registry *Registry, log logger.Logger) *Loader {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Loader{registry: registry, logger: log}
}

type build struct {
	*Loader
	closers []io.Closer
}

func (l *Loader) Build(cfg config.PipelineConfig, opts ...RouterOption) (*Router, error) {
	if err := config.ValidatePipeline(&cfg); err != nil {
		metrics.IncConfigError("pipeline")
		return nil, apperrors.ErrConfig.WithCause(err)
	}

	b := &build{Loader: l}
	processors := make([]*Processor, 0, len(cfg.Processors))
	targets := make(map[string][]string)

	for _, pc := range cfg.Processors {
		proc, procTargets, err := b.buildProcessor(pc)
		if err != nil {
			metrics.IncComponentLoad("processor", pc.Name, "failure")
			metrics.IncConfigError("pipeline")
			b.release()
			return nil, err
		}
		metrics.IncComponentLoad("processor", pc.Name, "success")
		processors = append(processors, proc)
		targets[pc.Name] = procTargets
	}

	known := make(map[string]bool, len(processors)+1)
	known[constants.StateGhost] = true
	for _, p := range processors {
		known[p.Name()] = true
	}
	for _, pc := range cfg.Processors {
		for _, target := range targets[pc.Name] {
			if !known[target] {
				metrics.IncConfigError("pipeline")
				b.release()
				return nil, configError(pc.Name, "mailet routes to undefined processor %q", target)
			}
		}
	}

	if !known[constants.StateError] {
		l.logger.Warnw("Pipeline has no error processor, failed mail will be ghosted")
	}

	router, err := NewRouter(processors, append([]RouterOption{WithLogger(l.logger), withClosers(b.closers)}, opts...)...)
	if err != nil {
		b.release()
		return nil, err
	}

	metrics.SetActiveProcessors(len(processors))
	l.logger.Infow("Router built", "processors", router.ProcessorNames(), "max_visits", router.MaxVisits())
	return router, nil
}

func (b *build) release() {
	for _, c := range b.closers {
		_ = c.Close()
	}
	b.closers = nil
}

func (b *build) track(component interface{}) {
	if c, ok := component.(io.Closer); ok {
		b.closers = append(b.closers, c)
	}
}

func (b *build) buildProcessor(pc config.ProcessorConfig) (*Processor, []string, error) {
	scope := make(map[string]Matcher, len(pc.Matchers))

	for _, decl := range pc.Matchers {
		if decl.Name == "" {
			return nil, nil, configError(pc.Name, "matcher declarations must be named")
		}
		if _, dup := scope[decl.Name]; dup {
			return nil, nil, configError(pc.Name, "matcher alias %q declared twice", decl.Name)
		}
		m, err := b.buildMatcher(pc.Name, decl, scope)
		if err != nil {
			return nil, nil, err
		}
		scope[decl.Name] = m
	}

	rules := make([]*Rule, 0, len(pc.Rules))
	var targets []string

	for i, rc := range pc.Rules {
		ref, inverted, err := matcherRef(pc.Name, rc.Match, rc.NotMatch)
		if err != nil {
			return nil, nil, err
		}

		matcher, err := b.resolveMatcher(pc.Name, ref, scope)
		if err != nil {
			return nil, nil, err
		}
		matcherName := ref
		if inverted {
			matcher = Invert(matcher)
			matcherName = "!" + ref
		}

		mailet, err := b.buildMailet(pc.Name, rc)
		if err != nil {
			return nil, nil, err
		}
		if t, ok := mailet.(ProcessorTargets); ok {
			targets = append(targets, t.Targets()...)
		}

		policy, err := ParseErrorPolicy(rc.OnError)
		if err != nil {
			return nil, nil, configError(pc.Name, "rule %d: %v", i, err)
		}

		rules = append(rules, &Rule{
			MatcherName: matcherName,
			Matcher:     matcher,
			MailetName:  rc.Mailet,
			Mailet:      mailet,
			OnError:     policy,
		})
	}

	return NewProcessor(pc.Name, rules, b.logger), targets, nil
}

func matcherRef(processor, match, notMatch string) (string, bool, error) {
	switch {
	case match != "" && notMatch != "":
		return "", false, configError(processor, "both match %q and notmatch %q given", match, notMatch)
	case match == "" && notMatch == "":
		return "", false, configError(processor, "one of match and notmatch is required")
	case notMatch != "":
		return notMatch, true, nil
	default:
		return match, false, nil
	}
}

// buildMatcher builds a declared matcher. Children are built first, so a
// composite is only handed to the caller once its whole subtree resolved.
func (b *build) buildMatcher(processor string, decl config.MatcherConfig, scope map[string]Matcher) (Matcher, error) {
	ref, inverted, err := matcherRef(processor, decl.Match, decl.NotMatch)
	if err != nil {
		return nil, err
	}

	var m Matcher
	if len(decl.Children) == 0 {
		m, err = b.resolveMatcher(processor, ref, scope)
		if err != nil {
			return nil, err
		}
	} else {
		children := make([]Matcher, 0, len(decl.Children))
		for _, child := range decl.Children {
			cm, err := b.buildMatcher(processor, child, scope)
			if err != nil {
				return nil, err
			}
			children = append(children, cm)
		}

		m, err = b.instantiateMatcher(processor, ParseMatcherRef(ref))
		if err != nil {
			return nil, err
		}
		comp, ok := m.(Composite)
		if !ok {
			return nil, configError(processor, "matcher %q does not accept children", ref)
		}
		for _, c := range children {
			comp.Add(c)
		}
		if err := comp.Validate(); err != nil {
			return nil, configError(processor, "%v", err)
		}
	}

	if inverted {
		m = Invert(m)
	}
	return m, nil
}

// resolveMatcher prefers an alias of the processor over a registered type.
func (b *build) resolveMatcher(processor, ref string, scope map[string]Matcher) (Matcher, error) {
	if m, ok := scope[ref]; ok {
		return m, nil
	}

	m, err := b.instantiateMatcher(processor, ParseMatcherRef(ref))
	if err != nil {
		return nil, err
	}
	if comp, ok := m.(Composite); ok {
		if err := comp.Validate(); err != nil {
			return nil, configError(processor, "%v", err)
		}
	}
	return m, nil
}

func (b *build) instantiateMatcher(processor string, mc MatcherConfig) (Matcher, error) {
	factory, ok := b.registry.Matcher(mc.Name)
	if !ok {
		metrics.IncComponentLoad("matcher", mc.Name, "unknown")
		return nil, configError(processor, "unknown matcher %q", mc.Name)
	}

	m, err := factory(mc)
	if err != nil {
		metrics.IncComponentLoad("matcher", mc.Name, "failure")
		b.logger.Errorw("Failed to instantiate matcher", "processor", processor, "matcher", mc.String(), "error", err)
		return nil, configError(processor, "matcher %q: %v", mc.String(), err)
	}

	metrics.IncComponentLoad("matcher", mc.Name, "success")
	b.track(m)
	return m, nil
}

func (b *build) buildMailet(processor string, rc config.RuleConfig) (Mailet, error) {
	factory, ok := b.registry.Mailet(rc.Mailet)
	if !ok {
		metrics.IncComponentLoad("mailet", rc.Mailet, "unknown")
		return nil, configError(processor, "unknown mailet %q", rc.Mailet)
	}

	m, err := factory(MailetConfig{Name: rc.Mailet, Settings: Settings(rc.Settings)})
	if err != nil {
		metrics.IncComponentLoad("mailet", rc.Mailet, "failure")
		b.logger.Errorw("Failed to instantiate mailet", "processor", processor, "mailet", rc.Mailet, "error", err)
		return nil, configError(processor, "mailet %q: %v", rc.Mailet, err)
	}

	metrics.IncComponentLoad("mailet", rc.Mailet, "success")
	b.track(m)
	return m, nil
}
