package dispatch

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// ErrNotPointer is returned by SetConfigFromEnvVars when s is not a pointer to a struct.
var ErrNotPointer = errors.New("config must be a non-nil pointer to a struct")

// ErrUnsupportedField is returned when an env-tagged field has a kind that cannot be parsed.
var ErrUnsupportedField = errors.New("unsupported config field kind")

// LocalEnvConfig reports whether a local .env file was loaded.
type LocalEnvConfig struct {
	Initialized bool
}

var (
	localEnvConfig     *LocalEnvConfig
	localEnvConfigOnce sync.Once
)

// GetenvOrDefault returns the trimmed value of key, or defaultValue when it is unset or blank.
func GetenvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}

	return value
}

// GetenvBoolOrDefault parses key as a bool, falling back to defaultValue.
func GetenvBoolOrDefault(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(GetenvOrDefault(key, ""))
	if err != nil {
		return defaultValue
	}

	return value
}

// GetenvIntOrDefault parses key as a base-10 int64, falling back to defaultValue.
func GetenvIntOrDefault(key string, defaultValue int64) int64 {
	value, err := strconv.ParseInt(GetenvOrDefault(key, ""), 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// InitLocalEnvConfig prints the service version and environment and, when
// ENV_NAME is "local", loads variables from a .env file in the working directory.
// It runs once per process.
func InitLocalEnvConfig() *LocalEnvConfig {
	localEnvConfigOnce.Do(func() {
		version := GetenvOrDefault("VERSION", "NO-VERSION")
		envName := GetenvOrDefault("ENV_NAME", "local")

		fmt.Printf("VERSION: %s\n\n", version)
		fmt.Printf("ENVIRONMENT NAME: %s\n\n", envName)

		localEnvConfig = &LocalEnvConfig{}

		if envName != "local" {
			return
		}

		if err := godotenv.Load(); err != nil {
			fmt.Println("skipping .env file:", err)
			return
		}

		localEnvConfig.Initialized = true
	})

	return localEnvConfig
}

// SetConfigFromEnvVars fills the fields of the struct pointed to by s from the
// environment variables named in their `env` tags. Unset variables leave the
// field at its zero value. Supported kinds: string, bool, signed and unsigned
// integers, floats and time.Duration (Go duration syntax or whole seconds).
func SetConfigFromEnvVars(s any) error {
	v := reflect.ValueOf(s)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return ErrNotPointer
	}

	v = v.Elem()
	t := v.Type()

	var errs []error

	for i := range t.NumField() {
		field := t.Field(i)

		tag, ok := field.Tag.Lookup("env")
		if !ok || tag == "" || !field.IsExported() {
			continue
		}

		raw := GetenvOrDefault(tag, "")
		if raw == "" {
			continue
		}

		if err := setField(v.Field(i), raw); err != nil {
			errs = append(errs, fmt.Errorf("%s (%s): %w", field.Name, tag, err))
		}
	}

	return errors.Join(errs...)
}

func setField(field reflect.Value, raw string) error {
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		return setDuration(field, raw)
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}

		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}

		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}

		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return err
		}

		field.SetFloat(f)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedField, field.Kind())
	}

	return nil
}

func setDuration(field reflect.Value, raw string) error {
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		field.SetInt(int64(time.Duration(seconds) * time.Second))
		return nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}

	field.SetInt(int64(d))

	return nil
}
