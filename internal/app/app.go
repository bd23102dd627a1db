// Package app contains the root application model: the tab bar, the active
// session's conversation, and the prompt input.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/nacre/internal/binding"
	"github.com/zjrosen/nacre/internal/config"
	"github.com/zjrosen/nacre/internal/engine"
	"github.com/zjrosen/nacre/internal/host"
	"github.com/zjrosen/nacre/internal/log"
	"github.com/zjrosen/nacre/internal/pubsub"
	"github.com/zjrosen/nacre/internal/session"
	"github.com/zjrosen/nacre/internal/stream"
	"github.com/zjrosen/nacre/internal/tabs"
	"github.com/zjrosen/nacre/internal/watcher"
	"github.com/zjrosen/nacre/internal/windows"
)

type keyMap struct {
	NewTab    key.Binding
	CloseTab  key.Binding
	NextTab   key.Binding
	PrevTab   key.Binding
	Detach    key.Binding
	Cancel    key.Binding
	Send      key.Binding
	Quit      key.Binding
	ToggleLog key.Binding
}

var keys = keyMap{
	NewTab:    key.NewBinding(key.WithKeys("ctrl+t"), key.WithHelp("ctrl+t", "new tab")),
	CloseTab:  key.NewBinding(key.WithKeys("ctrl+w"), key.WithHelp("ctrl+w", "close tab")),
	NextTab:   key.NewBinding(key.WithKeys("ctrl+right", "ctrl+pgdown"), key.WithHelp("ctrl+→", "next tab")),
	PrevTab:   key.NewBinding(key.WithKeys("ctrl+left", "ctrl+pgup"), key.WithHelp("ctrl+←", "prev tab")),
	Detach:    key.NewBinding(key.WithKeys("ctrl+d"), key.WithHelp("ctrl+d", "detach tab")),
	Cancel:    key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel turn")),
	Send:      key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send prompt")),
	Quit:      key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	ToggleLog: key.NewBinding(key.WithKeys("ctrl+x"), key.WithHelp("ctrl+x", "toggle logs")),
}

var (
	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))
	tabInactiveStyle = lipgloss.NewStyle().
				Padding(0, 1).
				Foreground(lipgloss.Color("250"))
	tabStreamingMark = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Render("●")
	tabErrorMark     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("✗")

	msgUserStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("45")).Bold(true)
	msgAssistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	msgToolStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)
	msgErrorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	msgSystemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")).
			Background(lipgloss.Color("236")).
			Padding(0, 1)
)

// logBacklog bounds the in-memory log tail shown by the log overlay.
const logBacklog = 200

// stateChangedMsg signals that another window wrote the state database.
type stateChangedMsg struct{}

// streamTickMsg drives repaints while any tab is streaming.
type streamTickMsg struct{}

// Model is the root application state.
type Model struct {
	cfg    config.Config
	store  *tabs.Store
	binder *binding.Binder
	bridge *windows.Bridge
	hst    host.Host

	input  textinput.Model
	width  int
	height int

	// confirmClose holds the tab awaiting an unsaved-changes confirmation.
	confirmClose string
	flash        string

	showLogs bool
	logLines []string

	ctx       context.Context
	cancel    context.CancelFunc
	tabEvents *pubsub.ContinuousListener[tabs.Change]
	logEvents *log.LogListener

	watcherHandle *watcher.Watcher
	watcherCh     <-chan struct{}
}

// Options wires the root model's collaborators.
type Options struct {
	Config config.Config
	Store  *tabs.Store
	Binder *binding.Binder
	Bridge *windows.Bridge
	Host   host.Host
	DBPath string
}

// New creates the root model.
func New(opts Options) Model {
	ctx, cancel := context.WithCancel(context.Background())

	input := textinput.New()
	input.Placeholder = "Send a prompt..."
	input.Prompt = "> "
	input.Focus()

	m := Model{
		cfg:       opts.Config,
		store:     opts.Store,
		binder:    opts.Binder,
		bridge:    opts.Bridge,
		hst:       opts.Host,
		input:     input,
		ctx:       ctx,
		cancel:    cancel,
		tabEvents: pubsub.NewContinuousListener(ctx, opts.Store.Broker()),
		logEvents: log.NewListener(ctx),
	}

	if opts.Config.AutoRefresh && opts.DBPath != "" {
		w, err := watcher.New(watcher.DefaultConfig(opts.DBPath))
		if err == nil {
			if ch, startErr := w.Start(); startErr == nil {
				m.watcherHandle = w
				m.watcherCh = ch
			} else {
				_ = w.Stop()
			}
		}
		// The app works without auto-refresh; watcher errors are not fatal.
	}

	return m
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.tabEvents.Listen()}
	// The log feed only exists once the logger is initialized (debug runs).
	if m.logEvents != nil {
		cmds = append(cmds, m.logEvents.Listen())
	}
	if m.watcherCh != nil {
		cmds = append(cmds, m.watchCmd())
	}
	return tea.Batch(cmds...)
}

func (m Model) watchCmd() tea.Cmd {
	ch := m.watcherCh
	ctx := m.ctx
	return func() tea.Msg {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			return stateChangedMsg{}
		}
	}
}

func streamTick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(time.Time) tea.Msg {
		return streamTickMsg{}
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = msg.Width - 4
		return m, nil

	case pubsub.Event[tabs.Change]:
		// Tab state changed; repaint and keep listening.
		return m, m.tabEvents.Listen()

	case pubsub.Event[string]:
		m.logLines = append(m.logLines, msg.Payload)
		if len(m.logLines) > logBacklog {
			m.logLines = m.logLines[len(m.logLines)-logBacklog:]
		}
		if m.logEvents == nil {
			return m, nil
		}
		return m, m.logEvents.Listen()

	case stateChangedMsg:
		log.Debug(log.CatTabs, "state database changed externally")
		return m, m.watchCmd()

	case streamTickMsg:
		if m.anyStreaming() {
			return m, streamTick()
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, keys.NewTab):
		m.store.CreateTab(tabs.CreateOptions{Engine: engine.Type(m.cfg.Engines.Default)})
		m.confirmClose = ""
		return m, nil

	case key.Matches(msg, keys.CloseTab):
		return m.closeActive()

	case key.Matches(msg, keys.NextTab):
		m.cycleTab(1)
		return m, nil

	case key.Matches(msg, keys.PrevTab):
		m.cycleTab(-1)
		return m, nil

	case key.Matches(msg, keys.Detach):
		return m.detachActive()

	case key.Matches(msg, keys.Cancel):
		if active := m.store.Active(); active != nil {
			if coord := m.binder.Coordinator(active.ID); coord != nil && coord.State() == session.StateSending {
				coord.Cancel(m.ctx)
				return m, nil
			}
		}
		m.confirmClose = ""
		return m, nil

	case key.Matches(msg, keys.ToggleLog):
		m.showLogs = !m.showLogs
		return m, nil

	case key.Matches(msg, keys.Send):
		return m.sendPrompt()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) closeActive() (tea.Model, tea.Cmd) {
	active := m.store.Active()
	if active == nil {
		return m, nil
	}

	force := m.confirmClose == active.ID
	result := m.store.Close(active.ID, force)
	if result.NeedsConfirmation {
		m.confirmClose = active.ID
		m.flash = "Unsaved changes. Press ctrl+w again to close."
		return m, nil
	}
	m.confirmClose = ""
	m.flash = ""
	return m, nil
}

func (m Model) detachActive() (tea.Model, tea.Cmd) {
	active := m.store.Active()
	if active == nil {
		return m, nil
	}
	if _, err := m.bridge.Detach(m.ctx, active.ID); err != nil {
		m.flash = fmt.Sprintf("Detach failed: %v", err)
	}
	return m, nil
}

func (m Model) sendPrompt() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	active := m.store.Active()
	if active == nil {
		return m, nil
	}
	if active.ProjectPath == "" {
		m.flash = "Select a project directory before sending a prompt."
		return m, nil
	}

	coord, err := m.binder.Bind(m.ctx, active.ID)
	if err != nil {
		m.flash = fmt.Sprintf("Cannot start session: %v", err)
		return m, nil
	}

	m.input.SetValue("")
	m.flash = ""
	coord.Send(m.ctx, text, m.cfg.ModelFor(string(active.Engine)))
	return m, streamTick()
}

func (m *Model) cycleTab(delta int) {
	all := m.store.Tabs()
	if len(all) == 0 {
		return
	}
	activeID := m.store.ActiveID()
	idx := 0
	for i, t := range all {
		if t.ID == activeID {
			idx = i
			break
		}
	}
	next := (idx + delta + len(all)) % len(all)
	m.store.SwitchTo(all[next].ID)
	m.confirmClose = ""
}

func (m Model) anyStreaming() bool {
	for _, t := range m.store.Tabs() {
		if t.Status == tabs.StatusStreaming {
			return true
		}
	}
	return false
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.viewTabBar())
	b.WriteString("\n\n")
	if m.showLogs {
		b.WriteString(m.viewLogs())
	} else {
		b.WriteString(m.viewConversation())
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	if m.cfg.UI.ShowStatusBar {
		b.WriteString(m.viewStatusBar())
	}
	return b.String()
}

func (m Model) viewTabBar() string {
	all := m.store.Tabs()
	if len(all) == 0 {
		return tabInactiveStyle.Render("(no tabs, ctrl+t to open one)")
	}

	activeID := m.store.ActiveID()
	parts := make([]string, 0, len(all))
	for _, t := range all {
		label := t.Title
		switch t.Status {
		case tabs.StatusStreaming:
			label = tabStreamingMark + " " + label
		case tabs.StatusError:
			label = tabErrorMark + " " + label
		}
		if t.ID == activeID {
			parts = append(parts, tabActiveStyle.Render(label))
		} else {
			parts = append(parts, tabInactiveStyle.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m Model) viewConversation() string {
	active := m.store.Active()
	if active == nil {
		return msgSystemStyle.Render("Open a tab to start a session.")
	}

	coord := m.binder.Coordinator(active.ID)
	if coord == nil {
		return msgSystemStyle.Render("No conversation yet. Type a prompt and press enter.")
	}

	msgs := coord.Messages().Messages()
	if len(msgs) == 0 {
		return msgSystemStyle.Render("No messages yet.")
	}

	// Show the tail that fits the window.
	visible := m.height - 8
	if visible < 1 {
		visible = len(msgs)
	}
	if len(msgs) > visible {
		msgs = msgs[len(msgs)-visible:]
	}

	lines := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		lines = append(lines, renderMessage(msg))
	}
	return strings.Join(lines, "\n")
}

func renderMessage(msg stream.Message) string {
	switch msg.Kind {
	case stream.KindUser:
		return msgUserStyle.Render("you: ") + msg.Text
	case stream.KindAssistant:
		return msgAssistantStyle.Render(msg.Text)
	case stream.KindToolUse:
		return msgToolStyle.Render("⚙ " + msg.ToolName)
	case stream.KindToolResult:
		out := msg.ToolOutput
		if len(out) > 120 {
			out = out[:120] + "…"
		}
		return msgToolStyle.Render("⚙ " + msg.ToolName + ": " + out)
	case stream.KindError:
		return msgErrorStyle.Render("error: " + msg.Text)
	default:
		return msgSystemStyle.Render(msg.Text)
	}
}

func (m Model) viewLogs() string {
	if len(m.logLines) == 0 {
		return msgSystemStyle.Render("No log entries yet.")
	}
	lines := m.logLines
	visible := m.height - 8
	if visible >= 1 && len(lines) > visible {
		lines = lines[len(lines)-visible:]
	}
	return msgSystemStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) viewStatusBar() string {
	if m.flash != "" {
		return statusBarStyle.Render(m.flash)
	}

	active := m.store.Active()
	if active == nil {
		return statusBarStyle.Render(fmt.Sprintf("%d tabs", m.store.Count()))
	}

	parts := []string{string(active.Engine)}
	if active.Session != nil && active.Session.ID != "" {
		parts = append(parts, "session "+shortID(active.Session.ID))
	}
	parts = append(parts, string(active.Status))
	if active.Status == tabs.StatusError && active.ErrorMessage != "" {
		parts = append(parts, active.ErrorMessage)
	}
	if coord := m.binder.Coordinator(active.ID); coord != nil {
		if n := coord.QueueLen(); n > 0 {
			parts = append(parts, fmt.Sprintf("%d queued", n))
		}
	}
	return statusBarStyle.Render(strings.Join(parts, " · "))
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// Close releases the model's background resources.
func (m *Model) Close() error {
	m.cancel()
	if m.watcherHandle != nil {
		return m.watcherHandle.Stop()
	}
	return nil
}
