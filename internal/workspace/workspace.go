// Package workspace lays out the per-run input folders on disk: one
// script_seqN directory per scene holding its narration, scene spec and code.
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/lesson-video-pipeline/internal/logging"
	"github.com/jonathan/lesson-video-pipeline/internal/scripting"
)

// RunFolderPrefix starts the name of every run input folder.
const RunFolderPrefix = "input_data_"

// SequencesDir is an optional wrapper directory around the scene folders.
const SequencesDir = "script_sequences"

const timestampLayout = "20060102_150405"

var sceneDirPattern = regexp.MustCompile(`^script_seq(\d+)$`)

// ErrNoRunFolder is returned by Latest when the root holds no run folder.
var ErrNoRunFolder = errors.New("no input_data_* folder found")

// SceneFiles are the files of one scene. Empty paths are absent files.
type SceneFiles struct {
	Seq       int
	Dir       string
	Code      string // script_seqN.py
	Narration string // script_seqN.txt
	Spec      string // script_seqN.json
}

// RunFolder is a run input folder and its scenes ordered by Seq.
type RunFolder struct {
	Path   string
	Scenes []SceneFiles
}

// Missing names the files a scene needs for rendering but lacks.
func (s SceneFiles) Missing() []string {
	var missing []string
	if s.Code == "" {
		missing = append(missing, "program")
	}
	if s.Narration == "" {
		missing = append(missing, "narration")
	}
	return missing
}

// Renderable splits the scenes into those holding both a program and a
// narration file and those missing either. Both keep ordinal order.
func (f *RunFolder) Renderable() (ready, incomplete []SceneFiles) {
	for _, s := range f.Scenes {
		if len(s.Missing()) == 0 {
			ready = append(ready, s)
		} else {
			incomplete = append(incomplete, s)
		}
	}
	return ready, incomplete
}

// Workspace manages run folders under a root directory.
type Workspace struct {
	root   string
	logger *zap.Logger
	now    func() time.Time
}

// New returns a Workspace rooted at root.
func New(root string, logger *zap.Logger) *Workspace {
	return &Workspace{root: root, logger: logging.OrNop(logger), now: time.Now}
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string {
	return w.root
}

// CreateRunFolder writes a new input_data_<timestamp> folder with the
// narration text and scene spec of every scene.
func (w *Workspace) CreateRunFolder(scenes []scripting.Scene) (*RunFolder, error) {
	if len(scenes) == 0 {
		return nil, fmt.Errorf("no scenes to write")
	}
	if err := os.MkdirAll(w.root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}

	base, err := w.mkRunDir()
	if err != nil {
		return nil, err
	}

	folder := &RunFolder{Path: base}
	totalWords, totalTokens := 0, 0
	for _, scene := range scenes {
		name := SceneName(scene.Seq)
		dir := filepath.Join(base, name)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create scene folder: %w", err)
		}

		narration := scene.Narration()
		txt := filepath.Join(dir, name+".txt")
		if err := os.WriteFile(txt, []byte(narration), 0644); err != nil {
			return nil, fmt.Errorf("failed to write narration: %w", err)
		}

		spec, err := json.MarshalIndent(scene, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode scene %d: %w", scene.Seq, err)
		}
		js := filepath.Join(dir, name+".json")
		if err := os.WriteFile(js, spec, 0644); err != nil {
			return nil, fmt.Errorf("failed to write scene spec: %w", err)
		}

		words, tokens := CountWords(narration)
		totalWords += words
		totalTokens += tokens
		w.logger.Debug("scene files written",
			zap.Int("ordinal", scene.Seq),
			zap.String("dir", dir),
			zap.Int("words", words),
			zap.Int("approx_tokens", tokens))

		folder.Scenes = append(folder.Scenes, SceneFiles{Seq: scene.Seq, Dir: dir, Narration: txt, Spec: js})
	}
	sortScenes(folder.Scenes)

	w.logger.Info("run folder created",
		zap.String("path", base),
		zap.Int("scenes", len(scenes)),
		zap.Int("words", totalWords),
		zap.Int("approx_tokens", totalTokens))
	return folder, nil
}

// mkRunDir creates a uniquely named run folder, suffixing _2, _3, ... when
// two runs start within the same second.
func (w *Workspace) mkRunDir() (string, error) {
	name := RunFolderPrefix + w.now().Format(timestampLayout)
	for i := 1; i < 100; i++ {
		candidate := name
		if i > 1 {
			candidate = fmt.Sprintf("%s_%d", name, i)
		}
		path := filepath.Join(w.root, candidate)
		err := os.Mkdir(path, 0755)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("failed to create run folder: %w", err)
		}
	}
	return "", fmt.Errorf("failed to create run folder: too many runs started at %s", name)
}

// WriteCode stores the program for scene seq inside folder.
func WriteCode(folder string, seq int, code string) (string, error) {
	name := SceneName(seq)
	dir := filepath.Join(folder, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create scene folder: %w", err)
	}
	path := filepath.Join(dir, name+".py")
	if err := os.WriteFile(path, []byte(code), 0644); err != nil {
		return "", fmt.Errorf("failed to write scene code: %w", err)
	}
	return path, nil
}

// Latest returns the most recently modified run folder under the root.
func (w *Workspace) Latest() (string, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w in %s", ErrNoRunFolder, w.root)
		}
		return "", fmt.Errorf("failed to read workspace root: %w", err)
	}

	var latest string
	var latestMod time.Time
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), RunFolderPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) {
			latest = filepath.Join(w.root, e.Name())
			latestMod = info.ModTime()
		}
	}
	if latest == "" {
		return "", fmt.Errorf("%w in %s", ErrNoRunFolder, w.root)
	}
	return latest, nil
}

// Resolve returns path, or the latest run folder when path is empty or "latest".
func (w *Workspace) Resolve(path string) (string, error) {
	if path == "" || path == "latest" {
		return w.Latest()
	}
	return NormalizeRunPath(path), nil
}

// NormalizeRunPath maps a script_sequences wrapper directory to its run folder.
func NormalizeRunPath(path string) string {
	clean := filepath.Clean(path)
	if filepath.Base(clean) == SequencesDir {
		return filepath.Dir(clean)
	}
	return clean
}

// Scan reads the scene folders of a run. Scenes may sit directly in the run
// folder or inside a script_sequences subfolder. When both hold the same
// scene, the copy with more files wins and ties go to the top level.
func Scan(runPath string) (*RunFolder, error) {
	runPath = NormalizeRunPath(runPath)
	info, err := os.Stat(runPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open run folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("run folder is not a directory: %s", runPath)
	}

	bySeq := make(map[int]SceneFiles)
	for _, dir := range []string{runPath, filepath.Join(runPath, SequencesDir)} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			m := sceneDirPattern.FindStringSubmatch(e.Name())
			if !e.IsDir() || m == nil {
				continue
			}
			seq, _ := strconv.Atoi(m[1])
			sceneDir := filepath.Join(dir, e.Name())
			scene := SceneFiles{
				Seq:       seq,
				Dir:       sceneDir,
				Code:      existing(filepath.Join(sceneDir, e.Name()+".py")),
				Narration: existing(filepath.Join(sceneDir, e.Name()+".txt")),
				Spec:      existing(filepath.Join(sceneDir, e.Name()+".json")),
			}
			if prev, ok := bySeq[seq]; ok && fileCount(prev) >= fileCount(scene) {
				continue
			}
			bySeq[seq] = scene
		}
	}

	folder := &RunFolder{Path: runPath}
	for _, scene := range bySeq {
		folder.Scenes = append(folder.Scenes, scene)
	}
	sortScenes(folder.Scenes)
	return folder, nil
}

func fileCount(s SceneFiles) int {
	n := 0
	for _, p := range []string{s.Code, s.Narration, s.Spec} {
		if p != "" {
			n++
		}
	}
	return n
}

// SceneName is the folder and file stem for scene seq.
func SceneName(seq int) string {
	return "script_seq" + strconv.Itoa(seq)
}

// ParseSceneName is the inverse of SceneName. It rejects anything that is
// not script_seq<N> with N >= 1.
func ParseSceneName(name string) (int, bool) {
	m := sceneDirPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	seq, err := strconv.Atoi(m[1])
	if err != nil || seq < 1 {
		return 0, false
	}
	return seq, true
}

// CountWords returns the word count of text and an approximate token count
// (one token per 0.75 words).
func CountWords(text string) (words, tokens int) {
	words = len(strings.Fields(text))
	return words, int(float64(words) / 0.75)
}

func existing(path string) string {
	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		return path
	}
	return ""
}

func sortScenes(scenes []SceneFiles) {
	sort.SliceStable(scenes, func(i, j int) bool { return scenes[i].Seq < scenes[j].Seq })
}
