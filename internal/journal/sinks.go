package journal

import (
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// Options configures the sinks Open can build.
type Options struct {
	Dir            string
	KafkaBootstrap string
	Topic          string
	SQLitePath     string
}

// Open builds a writer fanning out to every named sink (file, kafka,
// confluent, sqlite). The returned close func releases all of them.
// An empty list returns a nil writer.
func Open(sinks []string, opts Options) (Writer, func() error, error) {
	var (
		writers []Writer
		closers []func() error
	)
	closeAll := func() error {
		var first error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
	for _, s := range sinks {
		switch strings.TrimSpace(s) {
		case "", "none":
			continue
		case "file":
			fw, err := NewFileWriter(opts.Dir, FileName)
			if err != nil {
				_ = closeAll()
				return nil, nil, errors.Wrap(err, "init journal file")
			}
			writers = append(writers, fw)
		case "kafka":
			if opts.KafkaBootstrap == "" {
				_ = closeAll()
				return nil, nil, errors.New("journal sink kafka needs a bootstrap address")
			}
			kw := NewKafkaWriter(opts.KafkaBootstrap, opts.Topic)
			writers = append(writers, kw)
			closers = append(closers, kw.Close)
		case "confluent":
			if opts.KafkaBootstrap == "" {
				_ = closeAll()
				return nil, nil, errors.New("journal sink confluent needs a bootstrap address")
			}
			cw, err := NewConfluentWriter(opts.KafkaBootstrap, opts.Topic)
			if err != nil {
				_ = closeAll()
				return nil, nil, err
			}
			writers = append(writers, cw)
			closers = append(closers, cw.Close)
		case "sqlite":
			path := opts.SQLitePath
			if path == "" {
				path = filepath.Join(opts.Dir, "deliveries.db")
			}
			sj, err := OpenSQLite(path)
			if err != nil {
				_ = closeAll()
				return nil, nil, err
			}
			writers = append(writers, sj)
			closers = append(closers, sj.Close)
		default:
			_ = closeAll()
			return nil, nil, errors.Newf("unknown journal sink %q (want file|kafka|confluent|sqlite)", s)
		}
	}
	switch len(writers) {
	case 0:
		return nil, closeAll, nil
	case 1:
		return writers[0], closeAll, nil
	default:
		return NewMultiWriter(writers...), closeAll, nil
	}
}
