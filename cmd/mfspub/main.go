// mfspub reads, writes and publishes artifacts kept in an IPFS node's
// mutable file system under ipfs:namespace[/namespacePrefix] repositories.
//
// Every invocation is one session: publishers acquired while running the
// command are closed, and their pending content published, before exiting.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"time"

	leveldb "github.com/ipfs/go-ds-leveldb"
	logging "github.com/ipfs/go-log/v2"
	goprocess "github.com/jbenet/goprocess"
	"github.com/spf13/pflag"

	mfspub "github.com/ipfs/go-mfspub"
	"github.com/ipfs/go-mfspub/config"
	"github.com/ipfs/go-mfspub/republisher"
	"github.com/ipfs/go-mfspub/transport"
)

var log = logging.Logger("mfspub-cmd")

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	props             config.Properties
	repoID            string
	journalDir        string
	logLevel          string
	republishInterval time.Duration
}

func run() error {
	defaults, err := config.FromEnv()
	if err != nil {
		return err
	}

	var (
		opts               options
		multiaddr          string
		filesPrefix        string
		namespaceKey       string
		createKey, refresh bool
		publish            bool
	)
	flagSet := pflag.NewFlagSet("mfspub", pflag.ContinueOnError)
	flagSet.StringVar(&multiaddr, "multiaddr", defaults.Multiaddr, "multiaddr of the node's RPC API")
	flagSet.StringVar(&filesPrefix, "files-prefix", defaults.FilesPrefix, "MFS directory namespaces live under")
	flagSet.StringVar(&namespaceKey, "namespace-key", defaults.NamespaceKey, "node key to publish under (default: the namespace)")
	flagSet.BoolVar(&createKey, "create-key", defaults.NamespaceKeyCreate, "create the namespace key when missing")
	flagSet.BoolVar(&refresh, "refresh", defaults.RefreshNamespace, "refresh the namespace from its IPNS record first")
	flagSet.BoolVar(&publish, "publish", defaults.PublishNamespace, "publish pending content at exit")
	flagSet.StringVar(&opts.repoID, "repo-id", "mfspub", "repository id used for per-repository settings")
	flagSet.StringVar(&opts.journalDir, "journal", "", "leveldb directory recording publishes (default: in memory)")
	flagSet.StringVar(&opts.logLevel, "log-level", "error", "log level")
	flagSet.DurationVar(&opts.republishInterval, "republish-interval", 0, "publish pending content periodically while running")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	opts.props = config.Properties{
		config.KeyMultiaddr:          multiaddr,
		config.KeyFilesPrefix:        filesPrefix,
		config.KeyNamespaceKey:       namespaceKey,
		config.KeyNamespaceKeyCreate: strconv.FormatBool(createKey),
		config.KeyRefreshNamespace:   strconv.FormatBool(refresh),
		config.KeyPublishNamespace:   strconv.FormatBool(publish),
	}

	if err := logging.SetLogLevel("*", opts.logLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", opts.logLevel, err)
	}

	args := flagSet.Args()
	if len(args) == 0 {
		printHelp(flagSet)
		return errors.New("missing command")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	journal, closeJournal, err := openJournal(opts.journalDir)
	if err != nil {
		return err
	}
	defer closeJournal()

	reg := mfspub.NewRegistry(nil, journal)
	return execute(ctx, reg, opts, args, os.Stdin, os.Stdout)
}

func openJournal(dir string) (*mfspub.Journal, func(), error) {
	if dir == "" {
		return mfspub.NewMemoryJournal(), func() {}, nil
	}
	d, err := leveldb.NewDatastore(dir, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("opening journal %s: %w", dir, err)
	}
	return mfspub.NewJournal(d), func() {
		if err := d.Close(); err != nil {
			log.Errorf("closing journal: %s", err)
		}
	}, nil
}

// execute runs one command in its own session and closes the session's
// publishers before returning.
func execute(ctx context.Context, reg *mfspub.Registry, opts options, args []string, stdin io.Reader, stdout io.Writer) (err error) {
	cmd, args := args[0], args[1:]
	if cmd == "published" {
		return listPublished(ctx, reg, stdout)
	}
	if len(args) == 0 {
		return fmt.Errorf("%s: missing repository URL", cmd)
	}
	repo := transport.Repository{ID: opts.repoID, URL: args[0]}
	args = args[1:]

	sess := mfspub.NewSession()
	defer func() {
		if cerr := reg.CloseAll(ctx, sess); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	if opts.republishInterval > 0 {
		repub := republisher.NewRepublisher(func(ctx context.Context) error {
			return reg.PublishPending(ctx, sess)
		})
		repub.Interval = opts.republishInterval
		proc := goprocess.Go(repub.Run)
		defer proc.Close()
	}

	factory := transport.NewFactory(reg)
	switch cmd {
	case "stat":
		if len(args) != 1 {
			return errors.New("usage: stat <url> <location>")
		}
		pub, err := factory.Publisher(ctx, sess, opts.props, repo)
		if err != nil {
			return err
		}
		st, ok, err := pub.Stat(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", transport.ErrNotFound, args[0])
		}
		fmt.Fprintln(stdout, st)
		return nil

	case "get":
		if len(args) < 1 || len(args) > 2 {
			return errors.New("usage: get <url> <location> [file]")
		}
		tr, err := factory.NewTransporter(ctx, sess, opts.props, repo)
		if err != nil {
			return err
		}
		defer tr.Close(ctx)
		sink := stdout
		if len(args) == 2 {
			f, err := os.Create(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			sink = f
		}
		return tr.Get(ctx, &transport.GetTask{Location: args[0], Sink: sink})

	case "put":
		if len(args) != 2 {
			return errors.New("usage: put <url> <location> <file|->")
		}
		tr, err := factory.NewTransporter(ctx, sess, opts.props, repo)
		if err != nil {
			return err
		}
		defer tr.Close(ctx)
		task := &transport.PutTask{Location: args[0], Source: stdin, Size: -1}
		if args[1] != "-" {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			if fi, err := f.Stat(); err == nil {
				task.Size = fi.Size()
			}
			task.Source = f
		}
		return tr.Put(ctx, task)

	case "publish":
		pub, err := factory.Publisher(ctx, sess, opts.props, repo)
		if err != nil {
			return err
		}
		ok, err := pub.PublishNamespace(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "published %s: %t\n", pub.Namespace(), ok)
		return nil

	case "refresh":
		props := make(config.Properties, len(opts.props))
		for k, v := range opts.props {
			props[k] = v
		}
		// Refreshed explicitly below.
		props[config.KeyRefreshNamespace] = "false"
		pub, err := factory.Publisher(ctx, sess, props, repo)
		if err != nil {
			return err
		}
		ok, err := pub.RefreshNamespace(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "refreshed %s: %t\n", pub.Namespace(), ok)
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func listPublished(ctx context.Context, reg *mfspub.Registry, stdout io.Writer) error {
	records, err := reg.Journal().List(ctx)
	if err != nil {
		return err
	}
	namespaces := make([]string, 0, len(records))
	for ns := range records {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)
	for _, ns := range namespaces {
		rec := records[ns]
		fmt.Fprintf(stdout, "%s\t%s\t%s\t%s\n", ns, rec.Name, rec.Value, rec.Published.Format(time.RFC3339))
	}
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `mfspub manages artifacts published from an IPFS node's mutable file system.

Usage:
  mfspub [flags] stat <url> <location>
  mfspub [flags] get <url> <location> [file]
  mfspub [flags] put <url> <location> <file|->
  mfspub [flags] publish <url>
  mfspub [flags] refresh <url>
  mfspub [flags] published

Repository URLs have the form ipfs:namespace[/namespacePrefix]. Defaults
can be set with MFSPUB_* environment variables.

Flags:
`)
	flagSet.PrintDefaults()
}
