package serial

import (
	"bufio"
	"errors"
	"strings"
)

// DefaultDelimiter separates tokens when no tokenizer is configured.
const DefaultDelimiter = "\r"

// Tokenizer splits the accumulated read buffer into pieces. The last element
// of the result is always the unfinished remainder: it is put back into the
// buffer for the next read, even when it is empty. All other non-empty
// elements become tokens.
//
// For "msg1\rmsg2\r" a "\r" tokenizer yields ["msg1", "msg2", ""];
// for "msg1\rpart" it yields ["msg1", "part"].
//
// A non-nil error is reported to the exception handler. The pieces returned
// alongside it are still used, so a tokenizer that can skip bad input should
// return what it managed to split.
type Tokenizer func(buffer string) ([]string, error)

// DelimiterTokenizer returns a Tokenizer splitting on every occurrence of
// delim. An empty delim means DefaultDelimiter.
func DelimiterTokenizer(delim string) Tokenizer {
	if delim == "" {
		delim = DefaultDelimiter
	}
	return func(buffer string) ([]string, error) {
		return strings.Split(buffer, delim), nil
	}
}

// AnyDelimiterTokenizer returns a Tokenizer that splits on any single
// character contained in set, e.g. "\r\n" splits on either byte.
func AnyDelimiterTokenizer(set string) Tokenizer {
	if set == "" {
		set = DefaultDelimiter
	}
	return func(buffer string) ([]string, error) {
		var parts []string
		start := 0
		for i, r := range buffer {
			if strings.ContainsRune(set, r) {
				parts = append(parts, buffer[start:i])
				start = i + len(string(r))
			}
		}
		return append(parts, buffer[start:]), nil
	}
}

// SplitFuncTokenizer adapts a bufio.SplitFunc, such as bufio.ScanLines, to a
// Tokenizer. The split function is never called with atEOF set, so whatever
// it declines to consume is kept as the remainder.
//
// When the split function fails, the byte it failed on is discarded and
// splitting resumes after it. The failure is returned as a *TokenizeError.
func SplitFuncTokenizer(split bufio.SplitFunc) Tokenizer {
	return func(buffer string) ([]string, error) {
		var (
			parts  []string
			tokErr *TokenizeError
		)
		data := []byte(buffer)
		for len(data) > 0 {
			advance, token, err := split(data, false)
			if errors.Is(err, bufio.ErrFinalToken) {
				if token != nil {
					parts = append(parts, string(token))
					data = data[min(max(advance, 0), len(data)):]
				}
				break
			}
			if err != nil {
				if tokErr == nil {
					tokErr = &TokenizeError{Err: err}
				}
				tokErr.Discarded += string(data[:1])
				data = data[1:]
				continue
			}
			if advance <= 0 || advance > len(data) {
				break
			}
			data = data[advance:]
			if token != nil {
				parts = append(parts, string(token))
			}
		}
		parts = append(parts, string(data))
		if tokErr != nil {
			return parts, tokErr
		}
		return parts, nil
	}
}

// tokenize runs t over buffer and separates the complete, non-empty tokens
// from the remainder. A tokenizer that returns nothing leaves the whole
// buffer as the remainder.
func tokenize(t Tokenizer, buffer string) (tokens []string, leftover string, err error) {
	parts, err := t(buffer)
	if err != nil {
		var te *TokenizeError
		if !errors.As(err, &te) {
			err = &TokenizeError{Err: err}
		}
	}
	if len(parts) == 0 {
		return nil, buffer, err
	}
	leftover = parts[len(parts)-1]
	for _, p := range parts[:len(parts)-1] {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens, leftover, err
}
