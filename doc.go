// Package serial dispatches tokens read from a serial port, or any other slow
// byte source, to registered filters.
//
// A Listener reads a Transport on a background goroutine, splits the stream
// into tokens with a Tokenizer (default: split on "\r") and tries each token
// against its filters in registration order. The first filter whose
// predicate accepts a token gets it; callbacks run on a separate dispatcher
// goroutine so the reader never waits on user code. Tokens that no filter
// wants are kept for a time to live, so a filter created right after a burst
// of data can still see it, and then go to the default handler or are
// dropped.
//
// Three kinds of filters are available:
//   - CreateFilter: a callback invoked for every match until RemoveFilter
//   - CreateBlockingFilter: Wait blocks for the next match
//   - CreateBufferedFilter: matches queue in a circular buffer read with Wait
//
// Port is a minimal Linux-only serial port built on raw syscalls that
// implements Transport. This package does **not** support Windows.
//
// Example usage:
//
//	port, err := serial.Open(serial.Config{
//	    Device:   "/dev/ttyUSB0",
//	    BaudRate: 115200,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	l := serial.NewListener(serial.ListenerConfig{Delimiter: "\r"})
//	if err := l.StartListening(port); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.StopListening()
//
//	l.CreateFilter(serial.StartsWith("V="), func(token string) {
//	    fmt.Println("voltage:", token)
//	})
//
//	port.WriteLine("?$1E", "\r")
//	if !l.ListenForStringOnce("$1E=OK", time.Second) {
//	    log.Println("no reply")
//	}
//
// Blocking and buffered filters must be closed before their Listener is
// discarded; closing them after StopListening is harmless.
package serial
