// Package factory builds catalogs from stored connections. Every backend
// registers its kind tag, the fields it reads from a connection section and
// its constructor.
package factory

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"

	"digital.vasic.brocoli/pkg/catalog"
	"digital.vasic.brocoli/pkg/config"
)

var (
	// ErrUnknownKind is returned for an unregistered catalog_type.
	ErrUnknownKind = errors.New("unknown catalog type")
	// ErrAborted is returned by a PasswordPrompt when the user cancels.
	ErrAborted = errors.New("credential entry aborted")
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("option_bool", func(fl validator.FieldLevel) bool {
		_, err := config.ParseBool(fl.Field().String())
		return err == nil
	})
}

// FieldType tells a front end how to render and store a field.
type FieldType string

// Field types.
const (
	TypeText     FieldType = "text"
	TypeInt      FieldType = "int"
	TypeBool     FieldType = "bool"
	TypeHost     FieldType = "host"
	TypePath     FieldType = "path"
	TypePassword FieldType = "password"
)

// Field describes one connection setting of a backend.
type Field struct {
	Name    string
	Label   string
	Type    FieldType
	Default string
	// Validate is a validator tag applied to the raw value.
	Validate string
}

// Check validates a raw setting value.
func (f Field) Check(value string) error {
	if f.Validate == "" {
		return nil
	}
	if err := validate.Var(value, f.Validate); err != nil {
		return fmt.Errorf("%s: %w", f.Name, formatValidationError(err))
	}
	return nil
}

// PasswordPrompt asks the user for the password of conn. It returns
// ErrAborted when the user cancels.
type PasswordPrompt func(ctx context.Context, conn *config.Connection) (string, error)

// Options carries the caller side of a connection build.
type Options struct {
	Prompt PasswordPrompt
	Logger zerolog.Logger
	// UID keys password deobfuscation. config.UID when nil.
	UID func() int
}

func (o Options) uid() int {
	if o.UID != nil {
		return o.UID()
	}
	return config.UID()
}

// OpenFunc builds a catalog. settings holds the connection settings with
// password fields already deobfuscated.
type OpenFunc func(ctx context.Context, conn *config.Connection, settings map[string]string, opts Options) (catalog.Catalog, error)

// Backend is one registered catalog type.
type Backend struct {
	Kind   catalog.Kind
	Fields []Field
	Open   OpenFunc
}

// Field returns the named field.
func (b *Backend) Field(name string) (Field, bool) {
	for _, f := range b.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Encode returns a copy of settings with password fields obfuscated for
// storage.
func (b *Backend) Encode(settings map[string]string, uid int) map[string]string {
	out := make(map[string]string, len(settings))
	for k, v := range settings {
		if f, ok := b.Field(k); ok && f.Type == TypePassword && v != "" && !config.IsObfuscated(v) {
			v = config.Obfuscate(v, uid)
		}
		out[k] = v
	}
	return out
}

// reveal deobfuscates the password fields of settings. Plain values are
// kept so hand-edited files work.
func (b *Backend) reveal(settings map[string]string, uid int) (map[string]string, error) {
	out := make(map[string]string, len(settings))
	for k, v := range settings {
		if f, ok := b.Field(k); ok && f.Type == TypePassword && config.IsObfuscated(v) {
			plain, err := config.Deobfuscate(v, uid)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			v = plain
		}
		out[k] = v
	}
	return out, nil
}

// Check validates the settings of a connection against the fields.
func (b *Backend) Check(settings map[string]string) error {
	for _, f := range b.Fields {
		v, ok := settings[f.Name]
		if !ok {
			v = f.Default
		}
		if err := f.Check(v); err != nil {
			return err
		}
	}
	return nil
}

// Registry maps kind tags to backends.
type Registry struct {
	backends map[catalog.Kind]*Backend
	order    []catalog.Kind
	aliases  map[string]catalog.Kind
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: map[catalog.Kind]*Backend{},
		aliases:  map[string]catalog.Kind{},
	}
}

// Register adds a backend. A kind registers once.
func (r *Registry) Register(b Backend) error {
	if b.Kind == "" || b.Open == nil {
		return errors.New("backend needs a kind and a constructor")
	}
	if _, ok := r.backends[b.Kind]; ok {
		return fmt.Errorf("catalog type %s already registered", b.Kind)
	}
	r.backends[b.Kind] = &b
	r.order = append(r.order, b.Kind)
	return nil
}

// Alias makes alias resolve to kind.
func (r *Registry) Alias(alias string, kind catalog.Kind) {
	r.aliases[alias] = kind
}

// Lookup resolves a catalog_type value.
func (r *Registry) Lookup(kind string) (*Backend, error) {
	k := catalog.Kind(kind)
	if alias, ok := r.aliases[kind]; ok {
		k = alias
	}
	b, ok := r.backends[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return b, nil
}

// Kinds returns the registered kinds in registration order.
func (r *Registry) Kinds() []catalog.Kind {
	return append([]catalog.Kind(nil), r.order...)
}

// Connect builds the catalog of conn. It returns (nil, nil) when the user
// aborted credential entry.
func (r *Registry) Connect(ctx context.Context, conn *config.Connection, opts Options) (catalog.Catalog, error) {
	b, err := r.Lookup(conn.Type)
	if err != nil {
		return nil, catalog.NewError(catalog.KindLogic, "connect", conn.Name, err)
	}
	if err := b.Check(conn.Settings); err != nil {
		return nil, catalog.NewError(catalog.KindLogic, "connect", conn.Name, err)
	}
	settings, err := b.reveal(conn.Settings, opts.uid())
	if err != nil {
		return nil, catalog.NewError(catalog.KindLogic, "connect", conn.Name, err)
	}

	c, err := b.Open(ctx, conn, settings, opts)
	switch {
	case errors.Is(err, ErrAborted):
		opts.Logger.Info().Str("connection", conn.Name).Msg("connection aborted")
		return nil, nil
	case err != nil:
		return nil, connectError(conn.Name, err)
	}
	opts.Logger.Info().Str("connection", conn.Name).Str("kind", string(b.Kind)).Msg("connected")
	return c, nil
}

// connectError keeps translated and context errors, anything else is a
// connection failure.
func connectError(name string, err error) error {
	var ce *catalog.Error
	if errors.As(err, &ce) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return catalog.NewError(catalog.KindConnection, "connect", name, err)
}

var defaultRegistry = newDefaultRegistry()

// Default returns the registry of the built-in backends.
func Default() *Registry {
	return defaultRegistry
}

// Connect builds conn with the default registry.
func Connect(ctx context.Context, conn *config.Connection, opts Options) (catalog.Catalog, error) {
	return defaultRegistry.Connect(ctx, conn, opts)
}

func newDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, b := range []Backend{
		{Kind: catalog.KindOS, Fields: osFields, Open: openOS},
		{Kind: catalog.KindGrid, Fields: gridFields, Open: openGrid},
		{Kind: catalog.KindFTP, Fields: ftpFields, Open: openFTP},
		{Kind: catalog.KindSMB, Fields: smbFields, Open: openSMB},
		{Kind: catalog.KindWebDAV, Fields: webdavFields, Open: openWebDAV},
		{Kind: catalog.KindNFS, Fields: nfsFields, Open: openNFS},
	} {
		if err := r.Register(b); err != nil {
			panic(err)
		}
	}
	r.Alias("irods3", catalog.KindGrid)
	return r
}

// optionBoolHook decodes boolean options with config.ParseBool.
func optionBoolHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Bool {
		return data, nil
	}
	s := data.(string)
	if s == "" {
		return false, nil
	}
	return config.ParseBool(s)
}

// decode fills out from settings, field defaults first, and validates it.
func decode(settings map[string]string, fields []Field, out interface{}) error {
	input := make(map[string]interface{}, len(fields)+len(settings))
	for _, f := range fields {
		if f.Default != "" {
			input[f.Name] = f.Default
		}
	}
	for k, v := range settings {
		input[k] = v
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			optionBoolHook,
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return catalog.NewError(catalog.KindLogic, "configure", "", err)
	}
	if err := validate.Struct(out); err != nil {
		return catalog.NewError(catalog.KindLogic, "configure", "", formatValidationError(err))
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		if e.Namespace() == "" {
			return fmt.Errorf("validation failed on '%s' tag (value: %v)", e.Tag(), e.Value())
		}
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
