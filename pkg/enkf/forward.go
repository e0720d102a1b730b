package enkf

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cuemby/enkf/pkg/ensemble"
	"github.com/cuemby/enkf/pkg/storage"
	"github.com/cuemby/enkf/pkg/types"
)

// ParameterFile is the name a variable is exported under in a run path
func ParameterFile(key string) string {
	return key + ".txt"
}

// ResultFile is the name the forward model writes a dynamic variable to
// for one report step
func ResultFile(key string, step int) string {
	return fmt.Sprintf("%s_%d.txt", key, step)
}

// loadLatest returns the ANALYZED node at step when one exists, the
// FORECAST otherwise
func loadLatest(store storage.Store, key string, step, iens int) (*types.Node, error) {
	node, err := store.Load(key, types.NodeID{ReportStep: step, Iens: iens, Phase: types.PhaseAnalyzed})
	if err == nil {
		return node, nil
	}
	if !errors.Is(err, storage.ErrNodeNotFound) {
		return nil, err
	}
	return store.Load(key, types.NodeID{ReportStep: step, Iens: iens, Phase: types.PhaseForecast})
}

// FileExporter writes parameters and dynamic state as plain text files, one
// value per line
type FileExporter struct {
	Vars  *ensemble.Catalogue
	Store storage.Store
}

// Export writes every parameter and every dynamic state stored at step
func (e *FileExporter) Export(ctx context.Context, m *ensemble.Member, step int) error {
	for _, key := range e.Vars.Keys() {
		v, _ := e.Vars.Get(key)
		switch v.VarType {
		case types.VarParameter:
			node, err := loadLatest(e.Store, key, step, m.Iens)
			if errors.Is(err, storage.ErrNodeNotFound) && step != InitStep {
				node, err = loadLatest(e.Store, key, InitStep, m.Iens)
			}
			if err != nil {
				return fmt.Errorf("failed to load parameter %s: %w", key, err)
			}
			if err := writeValues(filepath.Join(m.RunPath, ParameterFile(key)), node.Data); err != nil {
				return err
			}
		case types.VarDynamicState:
			node, err := loadLatest(e.Store, key, step, m.Iens)
			if errors.Is(err, storage.ErrNodeNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to load state %s: %w", key, err)
			}
			if err := writeValues(filepath.Join(m.RunPath, ParameterFile(key)), node.Data); err != nil {
				return err
			}
		}
	}
	return nil
}

// FileLoader reads forward-model results back into the store as FORECAST
// nodes. Dynamic variables are read from <KEY>_<step>.txt for every step in
// (step1, step2]; parameters are re-read from the exported <KEY>.txt and
// stored at step2 (when step2 > step1) so that each report step carries the
// parameters its results were simulated with.
type FileLoader struct {
	Vars  *ensemble.Catalogue
	Store storage.Store
}

// Load stores the results of member m. Any missing or malformed file is an
// error.
func (l *FileLoader) Load(ctx context.Context, m *ensemble.Member, step1, step2 int) error {
	for _, key := range l.Vars.Keys() {
		v, _ := l.Vars.Get(key)
		if v.VarType == types.VarParameter {
			if step2 <= step1 {
				continue
			}
			if err := l.loadFile(m, key, ParameterFile(key), step2); err != nil {
				return err
			}
			continue
		}
		for step := step1 + 1; step <= step2; step++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := l.loadFile(m, key, ResultFile(key, step), step); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *FileLoader) loadFile(m *ensemble.Member, key, name string, step int) error {
	data, err := readValues(filepath.Join(m.RunPath, name))
	if err != nil {
		return err
	}
	if v, ok := l.Vars.Get(key); ok {
		if err := v.ObserveSize(len(data)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	id := types.NodeID{ReportStep: step, Iens: m.Iens, Phase: types.PhaseForecast}
	if err := l.Store.Save(&types.Node{Key: key, Data: data}, id); err != nil {
		return fmt.Errorf("failed to store %s %s: %w", key, id, err)
	}
	return nil
}

func writeValues(path string, data []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, x := range data {
		w.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func readValues(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open result file: %w", err)
	}
	defer f.Close()

	var data []float64
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		x, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		data = append(data, x)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
