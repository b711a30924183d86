package serial

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
)

func openPTY(t *testing.T) (master *os.File, port *Port) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	port, err = Open(Config{
		Device:      slave.Name(),
		BaudRate:    115200,
		ReadTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { port.Close() })
	return master, port
}

// readUntil keeps reading until want bytes arrived or the deadline passes.
func readUntil(t *testing.T, p *Port, want int, within time.Duration) string {
	t.Helper()
	var got []byte
	deadline := time.Now().Add(within)
	for len(got) < want && time.Now().Before(deadline) {
		b, err := p.Read(64)
		require.NoError(t, err)
		got = append(got, b...)
	}
	return string(got)
}

func TestPort_BasicRead(t *testing.T) {
	master, port := openPTY(t)

	_, err := master.Write([]byte("hello\r"))
	require.NoError(t, err)

	require.Equal(t, "hello\r", readUntil(t, port, 6, 500*time.Millisecond))
}

func TestPort_ReadTimesOutEmpty(t *testing.T) {
	_, port := openPTY(t)

	start := time.Now()
	b, err := port.Read(16)
	require.NoError(t, err)
	require.Empty(t, b)
	require.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestPort_ReadRespectsMax(t *testing.T) {
	master, port := openPTY(t)

	_, err := master.Write([]byte("abcdefgh"))
	require.NoError(t, err)

	var b []byte
	require.Eventually(t, func() bool {
		b, err = port.Read(3)
		return err == nil && len(b) > 0
	}, 500*time.Millisecond, 5*time.Millisecond)
	require.LessOrEqual(t, len(b), 3)
}

func TestPort_WriteLine(t *testing.T) {
	master, port := openPTY(t)

	line := "testline"
	newline := "\r\n"
	require.NoError(t, port.WriteLine(line, newline))

	buf := make([]byte, len(line)+len(newline))
	n, err := master.Read(buf)
	require.NoError(t, err)
	require.Equal(t, len(line)+len(newline), n)
	require.Equal(t, line+newline, string(buf))
}

func TestPort_Killability(t *testing.T) {
	_, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { slave.Close() })

	port, err := Open(Config{Device: slave.Name(), ReadTimeout: 10 * time.Second})
	require.NoError(t, err)
	require.True(t, port.IsOpen())

	errs := make(chan error, 1)
	go func() {
		_, err := port.Read(16)
		errs <- err
	}()

	// Give the goroutine a chance to block in poll
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, port.Close())
	require.False(t, port.IsOpen())

	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrPortClosed)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for Read to return after Close")
	}

	// Should be a no-op due to closeOnce
	require.NoError(t, port.Close())
}

func TestPort_ErrorPropagation(t *testing.T) {
	master, port := openPTY(t)

	// Simulate device disconnect by closing master
	require.NoError(t, master.Close())

	var err error
	require.Eventually(t, func() bool {
		_, err = port.Read(16)
		return err != nil
	}, 500*time.Millisecond, 5*time.Millisecond)
	require.False(t, errors.Is(err, ErrPortClosed))
}

func TestPort_FeedsListener(t *testing.T) {
	master, port := openPTY(t)

	l := NewListener(ListenerConfig{TimeToLive: 50 * time.Millisecond})
	require.NoError(t, l.StartListening(port))
	t.Cleanup(l.StopListening)

	replies := l.CreateBufferedFilter(StartsWith("$1E="), 4)
	defer replies.Close()

	_, err := master.Write([]byte("+\r$1E=Ro"))
	require.NoError(t, err)
	_, err = master.Write([]byte("bo\r"))
	require.NoError(t, err)

	reply, ok := replies.Wait(time.Second)
	require.True(t, ok)
	require.Equal(t, "$1E=Robo", reply)
}

func TestOpen_MissingDevice(t *testing.T) {
	_, err := Open(Config{Device: "/dev/does-not-exist-serial"})
	require.Error(t, err)
}
