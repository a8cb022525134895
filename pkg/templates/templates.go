package templates

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"mime"
	"os"
	"path/filepath"
)

// Template and asset names
const (
	MaintenancePage  = "upgrading.html.tmpl"
	MaintenanceAsset = "upgrading_bg.svg"
)

//go:embed assets/*
var assets embed.FS

// PageData holds variables for the maintenance page.
type PageData struct {
	Title          string
	Message        string
	AssetPath      string
	RefreshSeconds int
}

// GetTemplate returns the raw template content by name.
// A non-empty override path is read from disk instead of the embedded copy.
func GetTemplate(name, override string) (string, error) {
	if !ValidateTemplate(name) {
		return "", fmt.Errorf("unknown template: %s", name)
	}

	content, err := read(name, override)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// RenderPage renders the maintenance page with html/template.
func RenderPage(override string, data PageData) ([]byte, error) {
	tmplContent, err := GetTemplate(MaintenancePage, override)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New(MaintenancePage).Parse(tmplContent)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.Bytes(), nil
}

// Asset returns the maintenance background asset and its content type.
// The content type is derived from the override's extension when one is given.
func Asset(override string) ([]byte, string, error) {
	content, err := read(MaintenanceAsset, override)
	if err != nil {
		return nil, "", err
	}

	name := MaintenanceAsset
	if override != "" {
		name = override
	}
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return content, contentType, nil
}

func read(name, override string) ([]byte, error) {
	if override != "" {
		content, err := os.ReadFile(override)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s override: %w", name, err)
		}
		return content, nil
	}

	content, err := assets.ReadFile("assets/" + name)
	if err != nil {
		return nil, fmt.Errorf("embedded %s not found: %w", name, err)
	}
	return content, nil
}

// ListTemplates returns a list of all available template names.
func ListTemplates() []string {
	return []string{MaintenancePage}
}

// ValidateTemplate checks if a template name is valid.
func ValidateTemplate(name string) bool {
	return name == MaintenancePage
}
