package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"scenesmith/internal/logging"
	"scenesmith/internal/memory"
)

// UserRule is one user-defined rewrite loaded from the rules file. Match is
// a substring of the normalized error message; Pattern and Replace follow Go
// regexp syntax and are applied to the failing code.
type UserRule struct {
	Name    string `yaml:"name"`
	Match   string `yaml:"match"`
	Pattern string `yaml:"pattern"`
	Replace string `yaml:"replace"`
}

type userRulesFile struct {
	Rules []UserRule `yaml:"rules"`
}

// LoadUserRules parses the rules file into executable rules. Invalid entries
// are skipped with a log line rather than failing the whole file.
func LoadUserRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f userRulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}

	var rules []Rule
	for _, ur := range f.Rules {
		if ur.Name == "" || ur.Match == "" || ur.Pattern == "" {
			logging.FixChain("skipping incomplete user rule %q", ur.Name)
			continue
		}
		re, err := regexp.Compile(ur.Pattern)
		if err != nil {
			logging.FixChain("skipping user rule %q: bad pattern: %v", ur.Name, err)
			continue
		}
		match := strings.ToLower(ur.Match)
		repl := ur.Replace
		rules = append(rules, Rule{
			Name: ur.Name,
			Match: func(sig memory.Signature, _ string) bool {
				return strings.Contains(sig.NormalizedMessage, match)
			},
			Apply: func(code string) string {
				return re.ReplaceAllString(code, repl)
			},
		})
	}
	return rules, nil
}

// RulesWatcher hot-reloads the user rules file so long-running pipelines pick
// up new rewrites without a restart.
type RulesWatcher struct {
	mu       sync.RWMutex
	path     string
	watcher  *fsnotify.Watcher
	rules    []Rule
	lastSeen time.Time
	debounce time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

// NewRulesWatcher loads the rules at path and prepares a watcher. A missing
// file is fine: the watcher starts with no user rules and loads them when
// the file appears.
func NewRulesWatcher(path string) (*RulesWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	rw := &RulesWatcher{
		path:     path,
		watcher:  w,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	rw.reload()
	return rw, nil
}

// Rules returns the current user rules.
func (rw *RulesWatcher) Rules() []Rule {
	rw.mu.RLock()
	defer rw.mu.RUnlock()
	return rw.rules
}

// Start begins watching. Non-blocking.
func (rw *RulesWatcher) Start(ctx context.Context) error {
	rw.mu.Lock()
	if rw.running {
		rw.mu.Unlock()
		return nil
	}
	rw.running = true
	rw.mu.Unlock()

	// Watch the directory: editors replace files on save, which drops a
	// watch on the file itself.
	dir := filepath.Dir(rw.path)
	if err := rw.watcher.Add(dir); err != nil {
		logging.FixChain("rules watcher: cannot watch %s: %v", dir, err)
	}

	go rw.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the loop to exit.
func (rw *RulesWatcher) Stop() {
	rw.mu.Lock()
	if !rw.running {
		rw.mu.Unlock()
		return
	}
	rw.running = false
	rw.mu.Unlock()

	close(rw.stopCh)
	<-rw.doneCh
	rw.watcher.Close()
}

func (rw *RulesWatcher) run(ctx context.Context) {
	defer close(rw.doneCh)

	var pending bool
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-rw.stopCh:
			return
		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			if event.Name != rw.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				rw.mu.Lock()
				rw.lastSeen = time.Now()
				rw.mu.Unlock()
				pending = true
			}
		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			logging.FixChain("rules watcher error: %v", err)
		case <-ticker.C:
			if !pending {
				continue
			}
			rw.mu.RLock()
			settled := time.Since(rw.lastSeen) >= rw.debounce
			rw.mu.RUnlock()
			if settled {
				pending = false
				rw.reload()
			}
		}
	}
}

func (rw *RulesWatcher) reload() {
	rules, err := LoadUserRules(rw.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.FixChain("rules reload failed: %v", err)
		}
		return
	}
	rw.mu.Lock()
	rw.rules = rules
	rw.mu.Unlock()
	logging.FixChain("loaded %d user fix rules from %s", len(rules), rw.path)
}
