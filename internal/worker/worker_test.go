package worker

import (
	"encoding/json"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

// inProcessSpawn dials back to the given port on a goroutine running a
// Server, standing in for the real elevated child process exec.Command
// would launch.
func inProcessSpawn(t *testing.T, srv *Server) Spawner {
	return func(port int) error {
		conn, err := Dial("127.0.0.1:" + strconv.Itoa(port))
		if err != nil {
			return err
		}
		go srv.Serve(conn)
		return nil
	}
}

func TestManagerPingRoundTrip(t *testing.T) {
	srv := NewServer()
	m := NewManager(inProcessSpawn(t, srv))

	resp, err := m.Do(KindPing, nil)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, resp.Status)

	var info struct{ Name string }
	require.NoError(t, json.Unmarshal(resp.Data, &info))
	require.NotEmpty(t, info.Name)
}

func TestManagerSurfacesHandlerError(t *testing.T) {
	srv := NewServer()
	srv.Handle(KindFormat, func(json.RawMessage) (any, error) {
		return nil, fmt.Errorf("device busy")
	})
	m := NewManager(inProcessSpawn(t, srv))

	_, err := m.Do(KindFormat, map[string]string{"device": "disk0"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "device busy")
}

func TestManagerReconnectsAfterConnectionDrop(t *testing.T) {
	srv := NewServer()
	attempts := 0
	spawn := func(port int) error {
		attempts++
		conn, err := Dial("127.0.0.1:" + strconv.Itoa(port))
		if err != nil {
			return err
		}
		if attempts == 1 {
			// First worker instance dies immediately after connecting,
			// forcing Manager.Do to respawn and retry within the same call.
			conn.Close()
			return nil
		}
		go srv.Serve(conn)
		return nil
	}
	m := NewManager(spawn)

	_, err := m.Do(KindPing, nil)
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}

func TestManagerShutdownIsNoOpWithoutConnection(t *testing.T) {
	m := NewManager(func(port int) error { return fmt.Errorf("should not be called") })
	require.NoError(t, m.Shutdown())
}

func TestServerRejectsUnregisteredCommand(t *testing.T) {
	srv := NewServer()
	m := NewManager(inProcessSpawn(t, srv))

	_, err := m.Do(KindConvert, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no handler registered")
}
