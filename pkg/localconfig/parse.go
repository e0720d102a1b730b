package localconfig

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
)

// Command keywords of the local configuration language
const (
	CmdCreateUpdateStep         = "CREATE_UPDATESTEP"
	CmdCreateMinistep           = "CREATE_MINISTEP"
	CmdAttachMinistep           = "ATTACH_MINISTEP"
	CmdCreateDataset            = "CREATE_DATASET"
	CmdAttachDataset            = "ATTACH_DATASET"
	CmdCreateObsSet             = "CREATE_OBSSET"
	CmdAddData                  = "ADD_DATA"
	CmdAddObs                   = "ADD_OBS"
	CmdDelData                  = "DEL_DATA"
	CmdDelObs                   = "DEL_OBS"
	CmdDatasetDelAllData        = "DATASET_DEL_ALL_DATA"
	CmdObsSetDelAllObs          = "OBSSET_DEL_ALL_OBS"
	CmdCopyDataset              = "COPY_DATASET"
	CmdCopyObsSet               = "COPY_OBSSET"
	CmdActiveListAddDataIndex   = "ACTIVE_LIST_ADD_DATA_INDEX"
	CmdActiveListAddManyData    = "ACTIVE_LIST_ADD_MANY_DATA_INDEX"
	CmdActiveListAddObsIndex    = "ACTIVE_LIST_ADD_OBS_INDEX"
	CmdActiveListAddManyObs     = "ACTIVE_LIST_ADD_MANY_OBS_INDEX"
	CmdInstallUpdateStep        = "INSTALL_UPDATESTEP"
	CmdInstallDefaultUpdateStep = "INSTALL_DEFAULT_UPDATESTEP"

	commentPrefix = "--"
)

type token struct {
	text string
	line int
}

type parser struct {
	cfg    *Config
	vars   KeySet
	obs    KeySet
	tokens []token
	pos    int
}

type handler func(p *parser) error

var commands = map[string]handler{
	CmdCreateUpdateStep: func(p *parser) error {
		name, err := p.str()
		if err != nil {
			return err
		}
		_, err = p.cfg.CreateUpdateStep(name)
		return err
	},
	CmdCreateMinistep: func(p *parser) error {
		args, err := p.strs(2)
		if err != nil {
			return err
		}
		_, err = p.cfg.CreateMinistep(args[0], args[1])
		return err
	},
	CmdAttachMinistep: func(p *parser) error {
		args, err := p.strs(2)
		if err != nil {
			return err
		}
		u, err := p.cfg.UpdateStep(args[0])
		if err != nil {
			return err
		}
		m, err := p.cfg.Ministep(args[1])
		if err != nil {
			return err
		}
		u.AttachMinistep(m)
		return nil
	},
	CmdCreateDataset: func(p *parser) error {
		name, err := p.str()
		if err != nil {
			return err
		}
		_, err = p.cfg.CreateDataset(name)
		return err
	},
	CmdAttachDataset: func(p *parser) error {
		args, err := p.strs(2)
		if err != nil {
			return err
		}
		m, err := p.cfg.Ministep(args[0])
		if err != nil {
			return err
		}
		d, err := p.cfg.Dataset(args[1])
		if err != nil {
			return err
		}
		return m.AttachDataset(d)
	},
	CmdCreateObsSet: func(p *parser) error {
		name, err := p.str()
		if err != nil {
			return err
		}
		_, err = p.cfg.CreateObsSet(name)
		return err
	},
	CmdAddData: func(p *parser) error {
		args, err := p.strs(2)
		if err != nil {
			return err
		}
		d, err := p.cfg.Dataset(args[0])
		if err != nil {
			return err
		}
		keys, err := expand(args[1], p.vars)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := d.AddKey(k); err != nil {
				return err
			}
		}
		return nil
	},
	CmdAddObs: func(p *parser) error {
		args, err := p.strs(2)
		if err != nil {
			return err
		}
		o, err := p.cfg.ObsSet(args[0])
		if err != nil {
			return err
		}
		keys, err := expand(args[1], p.obs)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := o.AddObs(k); err != nil {
				return err
			}
		}
		return nil
	},
	CmdDelData: func(p *parser) error {
		args, err := p.strs(2)
		if err != nil {
			return err
		}
		d, err := p.cfg.Dataset(args[0])
		if err != nil {
			return err
		}
		return d.DelKey(args[1])
	},
	CmdDelObs: func(p *parser) error {
		args, err := p.strs(2)
		if err != nil {
			return err
		}
		o, err := p.cfg.ObsSet(args[0])
		if err != nil {
			return err
		}
		return o.DelObs(args[1])
	},
	CmdDatasetDelAllData: func(p *parser) error {
		name, err := p.str()
		if err != nil {
			return err
		}
		d, err := p.cfg.Dataset(name)
		if err != nil {
			return err
		}
		d.Clear()
		return nil
	},
	CmdObsSetDelAllObs: func(p *parser) error {
		name, err := p.str()
		if err != nil {
			return err
		}
		o, err := p.cfg.ObsSet(name)
		if err != nil {
			return err
		}
		o.Clear()
		return nil
	},
	CmdCopyDataset: func(p *parser) error {
		args, err := p.strs(2)
		if err != nil {
			return err
		}
		_, err = p.cfg.CopyDataset(args[0], args[1])
		return err
	},
	CmdCopyObsSet: func(p *parser) error {
		args, err := p.strs(2)
		if err != nil {
			return err
		}
		_, err = p.cfg.CopyObsSet(args[0], args[1])
		return err
	},
	CmdActiveListAddDataIndex: func(p *parser) error {
		return p.dataIndex(false)
	},
	CmdActiveListAddManyData: func(p *parser) error {
		return p.dataIndex(true)
	},
	CmdActiveListAddObsIndex: func(p *parser) error {
		return p.obsIndex(false)
	},
	CmdActiveListAddManyObs: func(p *parser) error {
		return p.obsIndex(true)
	},
	CmdInstallUpdateStep: func(p *parser) error {
		name, err := p.str()
		if err != nil {
			return err
		}
		from, err := p.integer()
		if err != nil {
			return err
		}
		to, err := p.integer()
		if err != nil {
			return err
		}
		u, err := p.cfg.UpdateStep(name)
		if err != nil {
			return err
		}
		return p.cfg.InstallUpdateStep(u, from, to)
	},
	CmdInstallDefaultUpdateStep: func(p *parser) error {
		name, err := p.str()
		if err != nil {
			return err
		}
		u, err := p.cfg.UpdateStep(name)
		if err != nil {
			return err
		}
		p.cfg.InstallDefault(u)
		return nil
	},
}

// Parse reads a command file into a new Config. Key arguments of ADD_DATA
// and ADD_OBS may be glob patterns, expanded against vars and obs.
func Parse(r io.Reader, vars, obs KeySet) (*Config, error) {
	c := New()
	if err := c.Load(r, vars, obs); err != nil {
		return nil, err
	}
	return c, nil
}

// Load applies the commands read from r on top of the existing objects
func (c *Config) Load(r io.Reader, vars, obs KeySet) error {
	tokens, err := tokenize(r)
	if err != nil {
		return err
	}
	p := &parser{cfg: c, vars: vars, obs: obs, tokens: tokens}
	for p.pos < len(p.tokens) {
		cmd := p.tokens[p.pos]
		p.pos++
		h, ok := commands[cmd.text]
		if !ok {
			return fmt.Errorf("line %d: unknown command %q", cmd.line, cmd.text)
		}
		if err := h(p); err != nil {
			return fmt.Errorf("line %d: %s: %w", cmd.line, cmd.text, err)
		}
	}
	return nil
}

func tokenize(r io.Reader) ([]token, error) {
	var tokens []token
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if i := strings.Index(text, commentPrefix); i >= 0 {
			text = text[:i]
		}
		for _, f := range strings.Fields(text) {
			tokens = append(tokens, token{text: f, line: line})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read local config: %w", err)
	}
	return tokens, nil
}

func (p *parser) str() (string, error) {
	if p.pos >= len(p.tokens) {
		return "", fmt.Errorf("unexpected end of input")
	}
	t := p.tokens[p.pos]
	p.pos++
	return t.text, nil
}

func (p *parser) strs(n int) ([]string, error) {
	out := make([]string, n)
	for i := range out {
		s, err := p.str()
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func (p *parser) integer() (int, error) {
	s, err := p.str()
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("expected integer, got %q", s)
	}
	return v, nil
}

func (p *parser) indices(many bool) ([]int, error) {
	if !many {
		i, err := p.integer()
		if err != nil {
			return nil, err
		}
		return []int{i}, nil
	}
	n, err := p.integer()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("negative index count %d", n)
	}
	out := make([]int, n)
	for i := range out {
		if out[i], err = p.integer(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *parser) dataIndex(many bool) error {
	args, err := p.strs(2)
	if err != nil {
		return err
	}
	idx, err := p.indices(many)
	if err != nil {
		return err
	}
	d, err := p.cfg.Dataset(args[0])
	if err != nil {
		return err
	}
	a := d.ActiveList(args[1])
	if a == nil {
		return fmt.Errorf("dataset %s has no key %s", args[0], args[1])
	}
	a.AddMany(idx)
	return nil
}

func (p *parser) obsIndex(many bool) error {
	args, err := p.strs(2)
	if err != nil {
		return err
	}
	idx, err := p.indices(many)
	if err != nil {
		return err
	}
	o, err := p.cfg.ObsSet(args[0])
	if err != nil {
		return err
	}
	a := o.ActiveList(args[1])
	if a == nil {
		return fmt.Errorf("obsset %s has no key %s", args[0], args[1])
	}
	a.AddMany(idx)
	return nil
}

// expand resolves a key argument. Plain keys are returned unchanged and
// checked later by Validate; patterns must match at least one key.
func expand(arg string, keys KeySet) ([]string, error) {
	if !strings.ContainsAny(arg, "*?[{") || keys == nil {
		return []string{arg}, nil
	}
	g, err := glob.Compile(arg)
	if err != nil {
		return nil, fmt.Errorf("invalid key pattern %q: %w", arg, err)
	}
	var out []string
	for _, k := range keys.Keys() {
		if g.Match(k) {
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("pattern %q matches no keys", arg)
	}
	return out, nil
}
