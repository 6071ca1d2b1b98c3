package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/genricoloni/presenced/internal/domain"
	"github.com/tidwall/jsonc"
	"go.uber.org/zap"
)

// formKeys lists every key a persisted form must carry
var formKeys = []string{
	"app_id",
	"details",
	"state",
	"timestamp",
	"large_image",
	"large_text",
	"small_image",
	"small_text",
	"button1_text",
	"button1_url",
	"button2_text",
	"button2_url",
}

// FileStore persists the presence form as an indented JSON object
type FileStore struct {
	logger *zap.Logger
	path   string
}

// NewFileStore creates a store for the configured form file
func NewFileStore(logger *zap.Logger, cfg domain.Config) *FileStore {
	return &FileStore{logger: logger, path: cfg.GetConfigFile()}
}

// Path returns the backing file
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the form. A missing file returns the defaults and no error;
// an unreadable or malformed file returns the defaults and an error
// wrapping domain.ErrInvalidConfig (or the I/O error).
func (s *FileStore) Load() (domain.Form, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("No config file, using defaults", zap.String("path", s.path))
		return domain.DefaultForm(), nil
	}
	if err != nil {
		return domain.DefaultForm(), fmt.Errorf("read %s: %w", s.path, err)
	}

	form, err := ParseForm(data)
	if err != nil {
		return domain.DefaultForm(), fmt.Errorf("%s: %w", s.path, err)
	}

	s.logger.Info("Configuration file loaded", zap.String("path", s.path))
	return form, nil
}

// Save validates form and replaces the file atomically
func (s *FileStore) Save(form domain.Form) error {
	if err := ValidateForm(form); err != nil {
		return err
	}

	data, err := json.MarshalIndent(form, "", "    ")
	if err != nil {
		return fmt.Errorf("encode form: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".presenced-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}

	s.logger.Debug("Configuration saved", zap.String("path", s.path))
	return nil
}

// ParseForm decodes a persisted form. Comments and trailing commas are
// tolerated; every key must be present with a string value and the
// timestamp must be a known mode.
func ParseForm(data []byte) (domain.Form, error) {
	var raw map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
		return domain.Form{}, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	if raw == nil {
		return domain.Form{}, fmt.Errorf("%w: not a JSON object", domain.ErrInvalidConfig)
	}

	values := make(map[string]string, len(formKeys))
	for _, key := range formKeys {
		v, ok := raw[key]
		if !ok {
			return domain.Form{}, fmt.Errorf("%w: missing key %q", domain.ErrInvalidConfig, key)
		}
		str, ok := v.(string)
		if !ok {
			return domain.Form{}, fmt.Errorf("%w: key %q must be a string, got %T", domain.ErrInvalidConfig, key, v)
		}
		values[key] = str
	}

	form := domain.Form{
		AppID:       values["app_id"],
		Details:     values["details"],
		State:       values["state"],
		Timestamp:   domain.TimestampMode(values["timestamp"]),
		LargeImage:  values["large_image"],
		LargeText:   values["large_text"],
		SmallImage:  values["small_image"],
		SmallText:   values["small_text"],
		Button1Text: values["button1_text"],
		Button1URL:  values["button1_url"],
		Button2Text: values["button2_text"],
		Button2URL:  values["button2_url"],
	}
	if err := ValidateForm(form); err != nil {
		return domain.Form{}, err
	}
	return form, nil
}

// ValidateForm checks the constraints a persisted form must satisfy
func ValidateForm(form domain.Form) error {
	if !form.Timestamp.Valid() {
		return fmt.Errorf("%w: unknown timestamp mode %q", domain.ErrInvalidConfig, form.Timestamp)
	}
	return nil
}
