package runner

import (
	"bytes"
	"context"
	"os"

	"github.com/dimiro1/banner"
)

type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

type Hooks struct {
	OnStart func()
	OnStop  func()
}

// Drainer finishes in-flight work units before the process exits.
type Drainer interface {
	Drain() error
}

const WorkerVersion = "dev"

func PrintBanner() {
	tpl := "{{ .Title \"LARUNG\" \"\" 0 }}\nVersion: " + WorkerVersion + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}
