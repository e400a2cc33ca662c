package hub_test

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"

	"github.com/jgraeff/midihub/hub"
	"github.com/jgraeff/midihub/hubtesting"
	"github.com/jgraeff/midihub/status"
	"github.com/jgraeff/midihub/wire"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// newOSCCapture stands in for the ESP32: an OSC server on an ephemeral port
// recording every message the hub emits.
func newOSCCapture(t *testing.T) (*hubtesting.Recorder[*osc.Message], int) {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	rec := &hubtesting.Recorder[*osc.Message]{}
	d := osc.NewStandardDispatcher()
	for _, addr := range []string{"/noteOn", "/noteOff", "/cc", "/pitchBend", "/config/setEffect"} {
		require.NoError(t, d.AddMsgHandler(addr, func(m *osc.Message) { rec.Add(m) }))
	}
	srv := &osc.Server{Dispatcher: d}
	go srv.Serve(conn)
	return rec, conn.LocalAddr().(*net.UDPAddr).Port
}

func TestCreateDefaults(t *testing.T) {
	assert := assert.New(t)

	svc, err := hub.Create("")
	require.NoError(t, err)

	st := svc.Status()
	assert.False(st.Running)
	assert.Equal("idle", st.Session)
	assert.Equal("127.0.0.1", st.WLEDIP)
	assert.Zero(svc.SourcePort(), "create binds nothing")
}

func TestCreateConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "malformed yaml", body: "daw_ip: [not\n"},
		{name: "port out of range", body: "daw_port: 99999\n"},
		{name: "bad ip", body: "esp_ip: not-an-ip\n"},
		{name: "empty session name", body: "session_name: \"\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := hub.Create(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, status.ErrConfigInvalid)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := hub.Create(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.ErrorIs(t, err, status.ErrConfigInvalid)
	})
}

func TestLifecycle(t *testing.T) {
	assert := assert.New(t)

	svc, err := hub.Create(writeConfig(t, "source_port: 0\n"))
	require.NoError(t, err)

	require.NoError(t, svc.Start())
	assert.NoError(svc.Start(), "second start is a no-op")
	st := svc.Status()
	assert.True(st.Running)
	assert.NotEmpty(st.Session)
	assert.NotZero(svc.SourcePort())

	svc.Stop()
	svc.Stop()
	st = svc.Status()
	assert.False(st.Running)
	assert.Equal("idle", st.Session)
	assert.Zero(svc.SourcePort())

	// A stopped service restarts cleanly.
	require.NoError(t, svc.Start())
	assert.True(svc.Status().Running)

	svc.Destroy()
	svc.Destroy()
	assert.False(svc.Status().Running)
	assert.ErrorIs(svc.Start(), status.ErrSessionTerminated)
	assert.ErrorIs(svc.SetPreset(context.Background(), 1), status.ErrSessionTerminated)
	assert.NotPanics(svc.Stop)
}

func TestStartBindFailure(t *testing.T) {
	assert := assert.New(t)

	taken, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero})
	require.NoError(t, err)
	defer taken.Close()
	port := taken.LocalAddr().(*net.UDPAddr).Port

	svc, err := hub.Create(writeConfig(t, fmt.Sprintf("source_port: %d\n", port)))
	require.NoError(t, err)

	err = svc.Start()
	require.Error(t, err)
	assert.ErrorIs(err, status.ErrBindFailed)
	assert.False(svc.Status().Running)
}

func TestHubEndToEnd(t *testing.T) {
	assert := assert.New(t)

	peer, err := hubtesting.NewStubPeer()
	require.NoError(t, err)
	defer peer.Close()

	espRec, espPort := newOSCCapture(t)

	svc, err := hub.Create(writeConfig(t, "source_port: 0\n"))
	require.NoError(t, err)
	require.NoError(t, svc.StartWithPeers("127.0.0.1", espPort, "127.0.0.1", peer.ControlAddr().Port))
	defer svc.Destroy()

	require.Eventually(t, func() bool { return svc.Status().Session == "established" },
		3*time.Second, 5*time.Millisecond, "handshake with the stub DAW")
	assert.Equal("127.0.0.1", svc.WLEDIP())

	// One framed NoteOn into the source port fans out to both sides.
	src, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", svc.SourcePort()))
	require.NoError(t, err)
	defer src.Close()
	_, err = src.Write(wire.AppendFrame(nil, []byte{0x90, 60, 100}))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(peer.Packets()) >= 1 },
		2*time.Second, 5*time.Millisecond, "rtp packet toward the DAW")
	pkt := peer.Packets()[0]
	require.Len(t, pkt.Commands, 1)
	assert.Equal(midi.NoteOn(0, 60, 100), pkt.Commands[0].Msg)

	espRec.WaitLen(t, 1, 2*time.Second)
	msg := espRec.All()[0]
	assert.Equal("/noteOn", msg.Address)
	assert.Equal([]interface{}{int32(60), int32(100)}, msg.Arguments)

	st := svc.Status()
	assert.Zero(st.Counters.ParseErrors)
	assert.Zero(st.Counters.OSCDrops)

	// Shutdown says goodbye to the peer.
	svc.Stop()
	assert.Eventually(func() bool { return peer.Byes() >= 1 },
		2*time.Second, 5*time.Millisecond)
}

func TestIngressParseErrorsSurfaceInStatus(t *testing.T) {
	svc, err := hub.Create(writeConfig(t, "source_port: 0\n"))
	require.NoError(t, err)
	require.NoError(t, svc.Start())
	defer svc.Destroy()

	src, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", svc.SourcePort()))
	require.NoError(t, err)
	defer src.Close()

	// Length prefix claims more bytes than the datagram carries.
	_, err = src.Write([]byte{0xFF, 0xFF})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return svc.Status().Counters.ParseErrors >= 1 },
		2*time.Second, 5*time.Millisecond)
}
