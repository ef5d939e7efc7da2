// Package shm owns the shared-memory fast path: one OS-level segment per
// tensor slot of a loaded model, mapped locally and registered with the
// daemon so tensor bytes move without an RPC payload copy.
package shm

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"accelrt/internal/rtclient"
)

const (
	// maxNameAttempts bounds the unique-name retry loop.
	maxNameAttempts = 64

	// protReadWrite is the mmap protection both sides use for segments.
	protReadWrite = uint32(unix.PROT_READ | unix.PROT_WRITE)

	defaultShmDir = "/dev/shm"
)

// region is one mapped segment. Fields mirror the acquisition order:
// created (name), mapped (buf), registered (daemon knows the path).
type region struct {
	name       string
	buf        []byte
	registered bool
}

// Manager allocates, maps and registers one segment per input/output tensor
// slot and mirrors teardown in strict reverse order. Segments are owned
// exclusively by the Manager instance that created them; callers must not
// touch buffers after Teardown.
//
// Buffers are not guarded against concurrent inferences staging into the
// same slot; that is a caller obligation.
type Manager struct {
	client  *rtclient.Client
	log     zerolog.Logger
	dir     string
	inputs  []*region
	outputs []*region
	enabled bool
}

// New returns a Manager backed by the given daemon client.
func New(client *rtclient.Client, log zerolog.Logger) *Manager {
	return &Manager{client: client, log: log, dir: defaultShmDir}
}

// Enabled reports whether Initialize completed successfully.
func (m *Manager) Enabled() bool { return m.enabled }

// Initialize creates, sizes, maps and registers one segment per requested
// tensor size. Any OS-level failure is setup-time fatal; the caller is
// expected to run Teardown regardless of the outcome.
func (m *Manager) Initialize(ctx context.Context, modelID uint32, inputSizes, outputSizes []int) error {
	if err := m.initRegions(ctx, &m.inputs, inputSizes, modelID); err != nil {
		return err
	}
	if err := m.initRegions(ctx, &m.outputs, outputSizes, modelID); err != nil {
		return err
	}
	for _, r := range m.inputs {
		m.log.Debug().Str("name", r.name).Int("size", len(r.buf)).Msg("input shared memory ready")
	}
	for _, r := range m.outputs {
		m.log.Debug().Str("name", r.name).Int("size", len(r.buf)).Msg("output shared memory ready")
	}
	m.enabled = true
	return nil
}

func (m *Manager) initRegions(ctx context.Context, regions *[]*region, sizes []int, modelID uint32) error {
	for _, size := range sizes {
		name, fd, err := m.openUnique(modelID)
		if err != nil {
			return err
		}
		r := &region{name: name}
		*regions = append(*regions, r)
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			_ = unix.Close(fd)
			return fmt.Errorf("ftruncate %s: %w", name, err)
		}
		buf, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		_ = unix.Close(fd)
		if err != nil {
			return fmt.Errorf("mmap %s: %w", name, err)
		}
		r.buf = buf
		if err := m.client.ShmMap(ctx, name, protReadWrite); err != nil {
			return err
		}
		r.registered = true
	}
	return nil
}

// openUnique creates a fresh shared-memory object with a name unique within
// the local namespace, parameterized by the owning model id. Collisions are
// retried with a short backoff up to maxNameAttempts.
func (m *Manager) openUnique(modelID uint32) (string, int, error) {
	for i := 0; i < maxNameAttempts; i++ {
		name := fmt.Sprintf("/accelrt_%d_%s", modelID, uuid.NewString()[:8])
		fd, err := unix.Open(m.path(name), unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0o700)
		if err == nil {
			return name, fd, nil
		}
		if !errors.Is(err, unix.EEXIST) {
			return "", 0, fmt.Errorf("shm_open %s: %w", name, err)
		}
		time.Sleep(time.Microsecond)
	}
	return "", 0, errors.New("cannot generate unique file name for shared memory")
}

func (m *Manager) path(name string) string {
	return filepath.Join(m.dir, strings.TrimPrefix(name, "/"))
}

// Set returns the buffer view the inference path consumes, or nil when the
// manager is not enabled.
func (m *Manager) Set() *rtclient.ShmSet {
	if !m.enabled {
		return nil
	}
	set := &rtclient.ShmSet{}
	for _, r := range m.inputs {
		set.InputPaths = append(set.InputPaths, r.name)
		set.InputBufs = append(set.InputBufs, r.buf)
	}
	for _, r := range m.outputs {
		set.OutputPaths = append(set.OutputPaths, r.name)
		set.OutputBufs = append(set.OutputBufs, r.buf)
	}
	return set
}

// Teardown mirrors acquisition in reverse: unregister every mapping at the
// daemon, unmap every region, then unlink every backing object — outputs
// before inputs at each step. Failures are logged and swallowed so teardown
// makes maximal progress. Safe to call repeatedly.
func (m *Manager) Teardown(ctx context.Context) {
	m.each(func(r *region) {
		if !r.registered {
			return
		}
		if err := m.client.ShmUnmap(ctx, r.name, protReadWrite); err != nil {
			m.log.Warn().Err(err).Str("name", r.name).Msg("shm_unmap failed during teardown")
		}
		r.registered = false
	})
	m.each(func(r *region) {
		if r.buf == nil {
			return
		}
		if err := unix.Munmap(r.buf); err != nil {
			m.log.Warn().Err(err).Str("name", r.name).Msg("munmap failed during teardown")
		}
		r.buf = nil
	})
	m.each(func(r *region) {
		if err := unix.Unlink(m.path(r.name)); err != nil {
			m.log.Warn().Err(err).Str("name", r.name).Msg("shm_unlink failed during teardown")
		}
	})
	m.outputs = nil
	m.inputs = nil
	m.enabled = false
}

// each visits outputs first, then inputs.
func (m *Manager) each(fn func(*region)) {
	for _, r := range m.outputs {
		fn(r)
	}
	for _, r := range m.inputs {
		fn(r)
	}
}
