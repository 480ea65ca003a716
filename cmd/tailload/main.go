// Command tailload opens many concurrent connections to a tailsrv, all
// starting from the beginning of the file, and shows a live summary of
// how far each connection has read. It exists to exercise (and watch)
// the engine's fan-out and fairness behaviour under load.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run())
}

func run() int {
	jobs := pflag.IntP("jobs", "j", 8, "number of concurrent connections")
	heartbeat := pflag.DurationP("heartbeat", "b", 5*time.Second, "TCP keepalive probe interval")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] ADDR\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Open --jobs concurrent connections to a tailsrv at ADDR,\n"+
			"all reading from offset 0, and show a live summary of their progress.\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.NArg() != 1 {
		pflag.Usage()
		return 2
	}
	addr := pflag.Arg(0)

	tails := make([]*tailState, *jobs)
	for i := range tails {
		tails[i] = &tailState{}
	}
	for _, t := range tails {
		go connectAndTail(addr, *heartbeat, t)
	}

	p := tea.NewProgram(newModel(tails))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "tailload: %v\n", err)
		return 1
	}
	return 0
}

// tailState holds one connection's most recently seen line, guarded by
// mu because it's written from that connection's goroutine and read from
// the UI's tick handler.
type tailState struct {
	mu      sync.Mutex
	last    string
	done    bool
	failure error
}

func (t *tailState) set(line string) {
	t.mu.Lock()
	t.last = line
	t.mu.Unlock()
}

func (t *tailState) finish(err error) {
	t.mu.Lock()
	t.done = true
	t.failure = err
	t.mu.Unlock()
}

func (t *tailState) snapshot() (last string, done bool, failure error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.done, t.failure
}

func connectAndTail(addr string, heartbeat time.Duration, t *tailState) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.finish(err)
		return
	}
	defer conn.Close()
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetKeepAlive(true)
		tc.SetKeepAlivePeriod(heartbeat)
	}
	if _, err := fmt.Fprintln(conn, "0"); err != nil {
		t.finish(err)
		return
	}
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			t.set(line)
		}
		if err != nil {
			t.finish(nil)
			return
		}
	}
}

type tickMsg struct{}

type model struct {
	tails []*tailState
}

func newModel(tails []*tailState) model { return model{tails: tails} }

func (m model) Init() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg.(type) {
	case tea.KeyMsg:
		return m, tea.Quit
	case tickMsg:
		if m.allDone() {
			return m, tea.Quit
		}
		return m, tea.Tick(time.Second, func(time.Time) tea.Msg { return tickMsg{} })
	}
	return m, nil
}

func (m model) allDone() bool {
	for _, t := range m.tails {
		if _, done, _ := t.snapshot(); !done {
			return false
		}
	}
	return true
}

func (m model) View() string {
	var b strings.Builder
	reference, _, _ := m.tails[0].snapshot()
	reference = strings.TrimRight(reference, "\n")

	agree := 0
	var disagree []string
	for i, t := range m.tails {
		last, done, failure := t.snapshot()
		last = strings.TrimRight(last, "\n")
		switch {
		case failure != nil:
			disagree = append(disagree, fmt.Sprintf("#%d: error: %v", i, failure))
		case last == reference:
			agree++
		default:
			status := ""
			if done {
				status = " (closed)"
			}
			disagree = append(disagree, fmt.Sprintf("#%d: %s%s", i, last, status))
		}
	}
	sort.Strings(disagree)
	for _, line := range disagree {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "%d others: %s\n", agree, reference)
	return b.String()
}
