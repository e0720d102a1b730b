package storage

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cuemby/enkf/pkg/subst"
	"github.com/cuemby/enkf/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"
)

func forecast(step, iens int) types.NodeID {
	return types.NodeID{ReportStep: step, Iens: iens, Phase: types.PhaseForecast}
}

func TestMountRequiresCreate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "case")

	_, err := Mount(dir, MountOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotMounted))

	store, err := Mount(dir, MountOptions{Create: true})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	assert.True(t, Exists(dir))
}

func TestMountRejectsOtherVersion(t *testing.T) {
	dir := t.TempDir()
	store, err := Mount(dir, MountOptions{Create: true})
	require.NoError(t, err)

	err = store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyVersion, []byte("104"))
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = Mount(dir, MountOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIncompatibleVersion))
	assert.Contains(t, err.Error(), "upgraded")
}

func TestStoreRoundTrip(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"bolt": func(t *testing.T) Store {
			s, err := Mount(t.TempDir(), MountOptions{Create: true})
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"memory": func(t *testing.T) Store {
			return NewMemoryStore("mem")
		},
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			node := &types.Node{Key: "PORO", Data: []float64{0.1, 0.2, 0.3}}

			require.NoError(t, s.Save(node, forecast(0, 1)))

			has, err := s.Has("PORO", forecast(0, 1))
			require.NoError(t, err)
			assert.True(t, has)

			has, err = s.Has("PORO", types.NodeID{ReportStep: 0, Iens: 1, Phase: types.PhaseAnalyzed})
			require.NoError(t, err)
			assert.False(t, has, "phases are separate cells")

			got, err := s.Load("PORO", forecast(0, 1))
			require.NoError(t, err)
			assert.Equal(t, node.Data, got.Data)

			got.Data[0] = 99
			again, err := s.Load("PORO", forecast(0, 1))
			require.NoError(t, err)
			assert.Equal(t, 0.1, again.Data[0])

			_, err = s.Load("PORO", forecast(1, 1))
			assert.True(t, errors.Is(err, ErrNodeNotFound))

			assert.NoError(t, s.Sync())
		})
	}
}

func TestBoltStoreKeepsNonFiniteValues(t *testing.T) {
	s, err := Mount(t.TempDir(), MountOptions{Create: true})
	require.NoError(t, err)
	defer s.Close()

	negZero := math.Copysign(0, -1)
	node := &types.Node{Key: "WOPR", Data: []float64{1, math.NaN(), math.Inf(1), math.Inf(-1), negZero}}
	require.NoError(t, s.Save(node, forecast(3, 0)))

	got, err := s.Load("WOPR", forecast(3, 0))
	require.NoError(t, err)
	assert.Equal(t, "WOPR", got.Key)
	require.Len(t, got.Data, len(node.Data))
	for i, v := range node.Data {
		assert.Equal(t, math.Float64bits(v), math.Float64bits(got.Data[i]), "element %d", i)
	}

	empty := &types.Node{Key: "EMPTY"}
	require.NoError(t, s.Save(empty, forecast(3, 0)))
	got, err = s.Load("EMPTY", forecast(3, 0))
	require.NoError(t, err)
	assert.Empty(t, got.Data)
}

func TestBoltStoreConcurrentSaves(t *testing.T) {
	s, err := Mount(t.TempDir(), MountOptions{Create: true})
	require.NoError(t, err)
	defer s.Close()

	var g errgroup.Group
	for iens := 0; iens < 32; iens++ {
		g.Go(func() error {
			return s.Save(&types.Node{Key: "PORO", Data: []float64{float64(iens)}}, forecast(0, iens))
		})
	}
	require.NoError(t, g.Wait())

	counts, err := s.CountNodes()
	require.NoError(t, err)
	assert.Equal(t, 32, counts[types.PhaseForecast])
	for iens := 0; iens < 32; iens++ {
		got, err := s.Load("PORO", forecast(0, iens))
		require.NoError(t, err)
		assert.Equal(t, []float64{float64(iens)}, got.Data)
	}
}

func TestDecodeRejectsCorruptCells(t *testing.T) {
	raw := encodeNode(&types.Node{Key: "PORO", Data: []float64{1, 2}})
	_, err := decodeNode(raw[:len(raw)-3])
	assert.Error(t, err)
	_, err = decodeNode(raw[:2])
	assert.Error(t, err)
}

func TestCopyWithRanking(t *testing.T) {
	src := NewMemoryStore("src")
	dst := NewMemoryStore("dst")
	for iens := 0; iens < 3; iens++ {
		require.NoError(t, src.Save(&types.Node{Key: "PORO", Data: []float64{float64(iens)}},
			types.NodeID{ReportStep: 5, Iens: iens, Phase: types.PhaseAnalyzed}))
	}

	err := Copy(src, dst, "PORO", CopySpec{
		FromStep: 5, FromPhase: types.PhaseAnalyzed,
		ToStep: 0, ToPhase: types.PhaseForecast,
		Members: []int{0, 1, 2},
		Mapping: []int{2, 0, 1},
	})
	require.NoError(t, err)

	for srcIens, target := range []int{2, 0, 1} {
		node, err := dst.Load("PORO", forecast(0, target))
		require.NoError(t, err)
		assert.Equal(t, float64(srcIens), node.Data[0])
	}

	err = Copy(src, dst, "PORO", CopySpec{FromStep: 5, FromPhase: types.PhaseAnalyzed, Members: []int{3}, Mapping: []int{0}})
	assert.Error(t, err)
}

func TestRegistrySelect(t *testing.T) {
	ensPath := t.TempDir()
	vars := subst.New()
	reg := NewRegistry(ensPath, vars)
	defer reg.Close()

	assert.Nil(t, reg.Current())

	require.NoError(t, reg.SelectDefault())
	assert.Equal(t, DefaultCase, reg.Case())

	require.NoError(t, reg.Select("smoother"))
	assert.Equal(t, "smoother", reg.Case())
	require.NotNil(t, reg.Current())
	assert.Equal(t, filepath.Join(ensPath, "smoother"), reg.Current().MountPoint())

	target, err := os.Readlink(filepath.Join(ensPath, "current"))
	require.NoError(t, err)
	assert.Equal(t, "smoother", target)

	v, ok := vars.Get("<ERTCASE>")
	require.True(t, ok)
	assert.Equal(t, "smoother", v)
	v, _ = vars.Get("<ERT-CASE>")
	assert.Equal(t, "smoother", v)

	cases, err := reg.Cases()
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "smoother"}, cases)
}

func TestRegistrySelectDefaultFollowsLink(t *testing.T) {
	ensPath := t.TempDir()
	reg := NewRegistry(ensPath, nil)
	require.NoError(t, reg.Select("posterior"))
	require.NoError(t, reg.Close())

	reg = NewRegistry(ensPath, nil)
	defer reg.Close()
	require.NoError(t, reg.SelectDefault())
	assert.Equal(t, "posterior", reg.Case())
}

func TestRegistryOpenAndRelease(t *testing.T) {
	reg := NewRegistry(t.TempDir(), nil)
	defer reg.Close()
	require.NoError(t, reg.Select("prior"))

	same, err := reg.Open("prior", false)
	require.NoError(t, err)
	assert.Equal(t, reg.Current(), same)
	require.NoError(t, reg.Release(same))

	// current store must still be usable after Release
	require.NoError(t, reg.Current().Save(&types.Node{Key: "K", Data: []float64{1}}, forecast(0, 0)))

	_, err = reg.Open("missing", false)
	assert.True(t, errors.Is(err, ErrNotMounted))

	other, err := reg.Open("target", true)
	require.NoError(t, err)
	assert.NotEqual(t, reg.Current().MountPoint(), other.MountPoint())
	require.NoError(t, reg.Release(other))
}

func TestAppendCaseLog(t *testing.T) {
	ensPath := t.TempDir()
	reg := NewRegistry(ensPath, nil)
	defer reg.Close()

	assert.Error(t, reg.AppendCaseLog(), "no case selected")

	require.NoError(t, reg.Select("prior"))
	require.NoError(t, reg.AppendCaseLog())
	require.NoError(t, reg.AppendCaseLog())

	data, err := os.ReadFile(filepath.Join(ensPath, "case.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "CASE:prior"))
		assert.Contains(t, line, "PID:")
		assert.Contains(t, line, "HOST:")
		assert.Contains(t, line, "TIME:")
	}
}
