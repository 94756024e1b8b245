package pipeline

import (
	language "github.com/hanpama/querycore/internal/language"
	"github.com/hanpama/querycore/internal/report"
	"github.com/hanpama/querycore/internal/rewrite"
)

const (
	DefaultDocumentCacheSize   = 512
	DefaultValidationCacheSize = 1024
)

type options struct {
	documentCacheSize   int
	validationCacheSize int
	validator           DocumentValidator
	validationSink      report.Sink
	rules               []DynamicRule
	passes              []Pass
}

func defaultOptions() options {
	return options{
		documentCacheSize:   DefaultDocumentCacheSize,
		validationCacheSize: DefaultValidationCacheSize,
	}
}

type Option func(*options)

// WithDocumentCacheSize bounds the parsed document cache. Zero disables it.
func WithDocumentCacheSize(n int) Option { return func(o *options) { o.documentCacheSize = n } }

// WithValidationCacheSize bounds the set of remembered valid documents.
func WithValidationCacheSize(n int) Option { return func(o *options) { o.validationCacheSize = n } }

// WithValidator replaces the default caching gqlparser validator.
func WithValidator(v DocumentValidator) Option { return func(o *options) { o.validator = v } }

// WithValidationSink receives the errors of every document failing
// validation.
func WithValidationSink(s report.Sink) Option { return func(o *options) { o.validationSink = s } }

// WithRules adds per-request rules to the default validator. They are
// ignored when WithValidator is given.
func WithRules(rules ...DynamicRule) Option {
	return func(o *options) { o.rules = append(o.rules, rules...) }
}

// WithPasses adds document rewrites run before validation.
func WithPasses(passes ...Pass) Option {
	return func(o *options) { o.passes = append(o.passes, passes...) }
}

// InlineFragmentsPass replaces fragment spreads by inline fragments.
func InlineFragmentsPass() Pass { return rewrite.InlineFragments }

// InjectDirectivePass adds dir to every field.
func InjectDirectivePass(dir *language.Directive) Pass {
	return func(doc *language.QueryDocument) (*language.QueryDocument, error) {
		return rewrite.InjectDirective(doc, dir)
	}
}
