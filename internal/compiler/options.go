package compiler

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/roach88/relq/internal/model"
)

// Option configures a Compiler.
type Option func(*Compiler)

// IDGenerator produces compile ids. Ids appear in logs and in the
// CompiledQuery so that diagnostics of one compile can be correlated.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-ordered UUIDv7 ids.
type UUIDv7Generator struct{}

func (UUIDv7Generator) Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// WithLogger sets the logger used for client-evaluation warnings and
// lifting diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Compiler) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTypeMappings replaces the type mapping source that gates constants,
// parameters and columns.
func WithTypeMappings(s model.TypeMappingSource) Option {
	return func(c *Compiler) {
		if s != nil {
			c.mappings = s
		}
	}
}

// WithMethodTranslators adds method translators. They are consulted before
// the built-in ones.
func WithMethodTranslators(ts ...MethodTranslator) Option {
	return func(c *Compiler) {
		c.methods = append(append([]MethodTranslator(nil), ts...), c.methods...)
	}
}

// WithMemberTranslators adds member translators. They are consulted before
// the built-in ones.
func WithMemberTranslators(ts ...MemberTranslator) Option {
	return func(c *Compiler) {
		c.members = append(append([]MemberTranslator(nil), ts...), c.members...)
	}
}

// WithClientEvalDisabled makes any client evaluation of a store query a
// compile error (ErrCodeClientEvalDisabled).
func WithClientEvalDisabled() Option {
	return func(c *Compiler) {
		c.strict = true
	}
}

// WithCompileIDGenerator sets the compile id generator.
func WithCompileIDGenerator(g IDGenerator) Option {
	return func(c *Compiler) {
		if g != nil {
			c.ids = g
		}
	}
}

// WithNoTracking builds entities without resolving them through the
// identity map.
func WithNoTracking() Option {
	return func(c *Compiler) {
		c.tracking = false
	}
}
