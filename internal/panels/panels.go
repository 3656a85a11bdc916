// Package panels finds the pre-rendered attribution figures shipped next to a model.
// Panels are optional: a missing figure is reported as absent, never as an error, and
// the numeric attribution endpoints work without any.
package panels

import (
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"stacking-explainer/internal/attribution"

	"github.com/rs/zerolog/log"
)

// Panel is one figure on disk.
type Panel struct {
	Level       attribution.Level `json:"level"`
	Title       string            `json:"title"`
	Path        string            `json:"-"`
	File        string            `json:"file"`
	ContentType string            `json:"content_type"`
	Size        int64             `json:"size"`
	ModTime     time.Time         `json:"mod_time"`
}

// candidate file names per level, in lookup order
var candidates = map[attribution.Level][]string{
	attribution.LevelLearners: {
		"level1.png", "level1.svg",
		"summary_plot.png",
	},
	attribution.LevelMeta: {
		"level2.png", "level2.svg",
		"SHAP Contribution Analysis for the Meta-Learner in the Second Layer of Stacking Regressor.png",
	},
	attribution.LevelPipeline: {
		"level3.png", "level3.svg",
		"Based on the overall feature contribution analysis of SHAP to the stacking model.png",
	},
}

var titles = map[attribution.Level]string{
	attribution.LevelLearners: "SHAP contribution analysis of the first-layer base learners",
	attribution.LevelMeta:     "SHAP contribution analysis of the second-layer meta learner",
	attribution.LevelPipeline: "SHAP contribution analysis of the whole stacking model",
}

// Catalog resolves panels inside one directory.
type Catalog struct {
	dir string

	mu     sync.Mutex
	warned map[attribution.Level]bool
}

// NewCatalog returns a catalog over dir. An empty dir yields a catalog with no panels.
func NewCatalog(dir string) *Catalog {
	return &Catalog{dir: dir, warned: make(map[attribution.Level]bool)}
}

// Dir returns the directory searched.
func (c *Catalog) Dir() string { return c.dir }

// Lookup returns the panel for level, if one is present on disk.
func (c *Catalog) Lookup(level attribution.Level) (Panel, bool) {
	if c.dir == "" {
		return Panel{}, false
	}
	for _, name := range candidates[level] {
		path := filepath.Join(c.dir, name)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		return Panel{
			Level:       level,
			Title:       titles[level],
			Path:        path,
			File:        name,
			ContentType: contentType(name),
			Size:        info.Size(),
			ModTime:     info.ModTime(),
		}, true
	}
	c.warnOnce(level)
	return Panel{}, false
}

// All returns every panel present, in level order.
func (c *Catalog) All() []Panel {
	var out []Panel
	for _, l := range attribution.Levels {
		if p, ok := c.Lookup(l); ok {
			out = append(out, p)
		}
	}
	return out
}

func (c *Catalog) warnOnce(level attribution.Level) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.warned[level] {
		return
	}
	c.warned[level] = true
	log.Warn().Str("dir", c.dir).Int("level", int(level)).Msg("attribution panel not found")
}

func contentType(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	return "application/octet-stream"
}
