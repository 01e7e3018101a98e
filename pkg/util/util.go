package util

import (
	"encoding/json"
	"fmt"
	"html"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// SendJSON marshals data and writes it to the WebSocket connection as a text message.
func SendJSON(conn *websocket.Conn, data interface{}) error {
	msg, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("error marshaling JSON: %w", err)
	}
	log.Debugf("-> Sending: %s", string(msg))
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("error writing message: %w", err)
	}
	return nil
}

// LoadConfig reads a YAML file and unmarshals it into a struct of type T.
// The result is checked against any `validate` struct tags.
func LoadConfig[T any](filepath string) (*T, error) {
	// 1. Read the file
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// 2. Initialize an empty instance of T
	var config T

	// 3. Unmarshal the YAML data into the struct
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	// 4. Validate
	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return &config, nil
}

// Validate checks a struct (or pointer to struct) against its `validate` tags.
func Validate(v any) error {
	return validate.Struct(v)
}

// LogWithLabel prefixes a log line with a bracketed label, e.g. a session id.
func LogWithLabel(label string, format string, args ...any) {
	log.Printf("[%s] %s", label, fmt.Sprintf(format, args...))
}

var (
	tagRe   = regexp.MustCompile(`<[^>]*>`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// StripTags turns an HTML fragment such as "Turn <b>left</b>" into plain text.
// Block-level divs are separated by a space so trailing hints don't run into the instruction.
func StripTags(s string) string {
	s = strings.ReplaceAll(s, "<div", " <div")
	s = tagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
