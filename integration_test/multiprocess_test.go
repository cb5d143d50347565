package mmvar_test

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/mmvar"
)

const (
	helperEnv   = "MMVAR_HELPER_PROCESS"
	helperPath  = "MMVAR_HELPER_PATH"
	helperID    = "MMVAR_HELPER_ID"
	helperCount = 200
)

// TestHelperProcess is not a real test. It is the body of the child
// processes started by TestMultiProcess.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		t.Skip("helper process")
	}
	id, err := strconv.Atoi(os.Getenv(helperID))
	require.NoError(t, err)

	s, err := mmvar.Open(os.Getenv(helperPath), mmvar.WithInitialSize(64<<10))
	require.NoError(t, err)
	defer s.Close()

	for i := range helperCount {
		name := fmt.Sprintf("p%d.%d", id, i)
		require.NoError(t, s.SetInt64(name, int64(id*helperCount+i)))
	}
	// A large value per child forces the file to grow while others map it.
	require.NoError(t, s.SetBytes(fmt.Sprintf("p%d.blob", id), make([]byte, 128<<10)))
	require.NoError(t, s.Sync())
}

func helperCmd(t *testing.T, path string, id int) *exec.Cmd {
	cmd := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$", "-test.count=1")
	cmd.Env = append(os.Environ(),
		helperEnv+"=1",
		helperPath+"="+path,
		helperID+"="+strconv.Itoa(id),
	)
	return cmd
}

func TestMultiProcess(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	path := filepath.Join(t.TempDir(), "shared.mmf")

	// The parent keeps a mapping open across the children's growth.
	parent, err := mmvar.Open(path, mmvar.WithInitialSize(64<<10))
	require.NoError(t, err)
	defer parent.Close()

	before, err := parent.Stats()
	require.NoError(t, err)

	const children = 4
	var g errgroup.Group
	for id := range children {
		g.Go(func() error {
			out, err := helperCmd(t, path, id).CombinedOutput()
			if err != nil {
				return fmt.Errorf("child %d: %w\n%s", id, err, out)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	n, err := parent.Len()
	require.NoError(t, err)
	assert.Equal(t, children*(helperCount+1), n)

	for id := range children {
		for i := range helperCount {
			v, err := parent.GetInt64(fmt.Sprintf("p%d.%d", id, i))
			require.NoError(t, err)
			require.Equal(t, int64(id*helperCount+i), v)
		}
		b, err := parent.GetBytes(fmt.Sprintf("p%d.blob", id))
		require.NoError(t, err)
		assert.Len(t, b, 128<<10)
	}

	after, err := parent.Stats()
	require.NoError(t, err)
	assert.Greater(t, after.MappedSize, before.MappedSize)
	require.NoError(t, parent.Check())
}
