// Package skill defines the skill manifest format and its loader. A skill is
// a directory whose root contains a SKILL.md file with YAML frontmatter
// declaring the skill's name, version, and requested permissions.
package skill

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
)

// ManifestFileName is the manifest marker expected at the root of a skill tree.
const ManifestFileName = "SKILL.md"

// Manifest represents the YAML frontmatter of a SKILL.md file
type Manifest struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// Installed represents a skill found under an install root
type Installed struct {
	Manifest  *Manifest
	Directory string
}

// HasManifest reports whether dir contains a manifest marker file.
func HasManifest(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ManifestFileName))
	return err == nil && !info.IsDir()
}

// Load reads and parses the manifest at the root of dir.
func Load(dir string) (*Manifest, error) {
	content, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read skill manifest")
	}
	return Parse(content)
}

// Parse parses SKILL.md content and validates the frontmatter.
func Parse(content []byte) (*Manifest, error) {
	md := goldmark.New(
		goldmark.WithExtensions(meta.Meta),
	)

	var buf bytes.Buffer
	pctx := parser.NewContext()

	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err != nil {
		return nil, errors.Wrap(err, "failed to parse markdown")
	}

	metaData := meta.Get(pctx)
	if metaData == nil {
		return nil, errors.New("missing frontmatter")
	}

	m := &Manifest{}
	m.Name, _ = metaData["name"].(string)
	m.Version, _ = metaData["version"].(string)
	m.Description, _ = metaData["description"].(string)

	if perms, ok := metaData["permissions"].([]interface{}); ok {
		for _, p := range perms {
			m.Permissions = append(m.Permissions, fmt.Sprintf("%v", p))
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return m, nil
}

// Validate checks required manifest fields.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return errors.New("skill name is required in frontmatter")
	}
	if m.Version == "" {
		return errors.New("skill version is required in frontmatter")
	}
	return nil
}

// ListInstalled returns all skills installed under root, sorted by name.
// Directories without a parseable manifest are skipped.
func ListInstalled(root string) ([]*Installed, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read skills directory")
	}

	var installed []*Installed
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		m, err := Load(dir)
		if err != nil {
			continue
		}
		installed = append(installed, &Installed{Manifest: m, Directory: dir})
	}

	sort.Slice(installed, func(i, j int) bool {
		return installed[i].Manifest.Name < installed[j].Manifest.Name
	})

	return installed, nil
}
