package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/infrastructure/evaluators"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
)

// EnvPrefix marks environment variables that override file values.
const EnvPrefix = "GRADER_"

const maxConfigFileSize = 1 << 20

var subjectPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+)*$`)

// Load reads configuration in three layers, each overriding the last:
//
//  1. built-in defaults
//  2. the YAML file at path, when path is non-empty
//  3. GRADER_-prefixed environment variables
//
// Environment variables split on the first underscore after the prefix:
//
//	GRADER_SERVER_MAX_UPLOAD_BYTES -> server.max_upload_bytes
//	GRADER_NATS_URL                -> nats.url
//
// The result is validated before it is returned.
func Load(path string) (Config, error) {
	var data []byte
	if path != "" {
		b, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		data = b
	}
	return Parse(data)
}

// Parse is Load with the file contents already in memory.
func Parse(data []byte) (Config, error) {
	k := koanf.New(".")

	defaults, err := yamlv3.Marshal(Default())
	if err != nil {
		return Config{}, fmt.Errorf("encode defaults: %w", err)
	}
	if err := k.Load(rawbytes.Provider(defaults), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load environment variables: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	v, err := NewValidator(evaluatorNames())
	if err != nil {
		return Config{}, err
	}
	if err := Validate(v, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envKey maps GRADER_SECTION_FIELD_NAME to section.field_name.
func envKey(key string) string {
	lower := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	data, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return data, nil
}

func evaluatorNames() []string {
	names := make([]string, 0, len(evaluators.Builtins()))
	for name := range evaluators.Builtins() {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewValidator returns a validator that reports yaml field names and knows
// the config-specific tags:
//
//	evaluator  the value names one of known
//	subject    the value is a NATS subject without wildcards
func NewValidator(known []string) (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	if err := RegisterConfigValidators(v, known); err != nil {
		return nil, err
	}
	return v, nil
}

// RegisterConfigValidators adds the evaluator and subject tags to v.
func RegisterConfigValidators(v *validator.Validate, known []string) error {
	set := make(map[string]bool, len(known))
	for _, name := range known {
		set[name] = true
	}
	if err := v.RegisterValidation("evaluator", func(fl validator.FieldLevel) bool {
		return set[fl.Field().String()]
	}); err != nil {
		return fmt.Errorf("failed to register evaluator validator: %w", err)
	}
	if err := v.RegisterValidation("subject", func(fl validator.FieldLevel) bool {
		return subjectPattern.MatchString(fl.Field().String())
	}); err != nil {
		return fmt.Errorf("failed to register subject validator: %w", err)
	}
	return nil
}

// Validate checks cfg with v. Failures are reported as one error wrapping
// domain.ErrInvalidConfiguration, listing each offending field.
func Validate(v *validator.Validate, cfg Config) error {
	err := v.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalidConfiguration, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "evaluator":
		return fmt.Sprintf("%s: unknown evaluator %q", field, fe.Value())
	case "subject":
		return fmt.Sprintf("%s: %q is not a valid subject", field, fe.Value())
	case "min", "max", "gte", "lte", "gt":
		return fmt.Sprintf("%s must satisfy %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
	}
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}
