package ui

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Makepad-fr/tada/internal/model"
	"github.com/Makepad-fr/tada/internal/stream"
)

// ListController is what the interactive list needs from the app layer.
type ListController interface {
	Watch(ctx context.Context, fn func([]model.Todo)) stream.Unsubscribe
	Toggle(ctx context.Context, id string, completed bool) error
	Remove(ctx context.Context, t model.Todo) error
	Restore(ctx context.Context, t model.Todo) error
	Save(ctx context.Context, id, title, description string) error
}

// todosMsg carries a fresh list from the repository stream.
type todosMsg []model.Todo

// actionMsg reports the outcome of a write.
type actionMsg struct {
	status    string
	err       error
	undo      *model.Todo
	clearUndo bool
}

// todoItem adapts model.Todo to bubbles/list.Item
type todoItem struct {
	todo model.Todo
}

func (i todoItem) Title() string       { return i.todo.Title }
func (i todoItem) Description() string { return i.todo.Description }
func (i todoItem) FilterValue() string { return i.todo.Title }

// Custom delegate to control how items render (single line)
type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }
func (d itemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(todoItem)
	if !ok {
		return
	}
	t := Current()
	box := mutedStyle.Render(t.BoxUnchecked)
	text := it.todo.Title
	if it.todo.IsCompleted {
		box = successStyle.Render(t.BoxChecked)
		text = doneStyle.Render(text)
	}
	line := box + " " + text
	if it.todo.Description != "" {
		line += "  " + mutedStyle.Render(truncate(it.todo.Description, 40))
	}
	prefix := "  "
	if index == m.Index() {
		prefix = selectedStyle.Render("> ")
	}
	fmt.Fprintln(w, prefix+line)
}

type inputMode int

const (
	browsing inputMode = iota
	adding
	editing
)

var (
	toggleBind = key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "toggle"))
	deleteBind = key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete"))
	addBind    = key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add"))
	editBind   = key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit"))
	undoBind   = key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "undo"))
)

type listModel struct {
	ctx context.Context
	ctl ListController

	list  list.Model
	todos []model.Todo

	mode     inputMode
	ti       textinput.Model // shared by add and edit
	inputErr string
	target   model.Todo // todo being edited

	undo      *model.Todo // single-level undo of the last delete
	status    string
	statusErr bool

	width, height int
}

func newListModel(ctx context.Context, ctl ListController) listModel {
	l := list.New(nil, itemDelegate{}, 0, 0)
	l.Title = headerTitle(nil)
	l.SetShowHelp(true)
	l.SetShowPagination(true)
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = titleStyle
	l.Styles.HelpStyle = helpStyle
	l.Styles.PaginationStyle = helpStyle
	l.FilterInput.Prompt = "/ "
	l.SetStatusBarItemName("todo", "todos")

	extra := func() []key.Binding { return []key.Binding{toggleBind, deleteBind, addBind, editBind, undoBind} }
	l.AdditionalShortHelpKeys = extra
	l.AdditionalFullHelpKeys = extra

	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = 200

	return listModel{ctx: ctx, ctl: ctl, list: l, ti: ti, width: 80, height: 24}
}

func headerTitle(todos []model.Todo) string {
	d, p := model.Stats(todos)
	t := Current()
	return fmt.Sprintf("%s   %s %d  %s %d  %s %d",
		titleStyle.Render("Todos"),
		successStyle.Render(t.SymDone), d,
		pendingStyle.Render(t.SymPending), p,
		accentStyle.Render("Total"), len(todos),
	)
}

func (m listModel) Init() tea.Cmd { return nil }

func (m listModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil

	case todosMsg:
		return m, m.setTodos(msg)

	case actionMsg:
		m.status, m.statusErr = msg.status, msg.err != nil
		if msg.err != nil {
			m.status = msg.err.Error()
		}
		if msg.undo != nil {
			m.undo = msg.undo
		}
		if msg.clearUndo {
			m.undo = nil
		}
		m.resize()
		return m, nil
	}

	if m.mode != browsing {
		return m.updateInput(msg)
	}

	if km, ok := msg.(tea.KeyMsg); ok && m.list.FilterState() != list.Filtering {
		switch km.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "esc":
			if m.list.FilterState() == list.Unfiltered {
				return m, tea.Quit
			}
		case " ":
			if td, ok := m.selected(); ok {
				return m, m.run("", func(ctx context.Context) error {
					return m.ctl.Toggle(ctx, td.ID, !td.IsCompleted)
				})
			}
			return m, nil
		case "d":
			if td, ok := m.selected(); ok {
				ctl, ctx := m.ctl, m.ctx
				return m, func() tea.Msg {
					if err := ctl.Remove(ctx, td); err != nil {
						return actionMsg{err: err}
					}
					return actionMsg{status: "deleted " + td.Title + " (u to undo)", undo: &td}
				}
			}
			return m, nil
		case "u":
			if m.undo != nil {
				td := *m.undo
				ctl, ctx := m.ctl, m.ctx
				return m, func() tea.Msg {
					if err := ctl.Restore(ctx, td); err != nil {
						return actionMsg{err: err}
					}
					return actionMsg{status: "restored " + td.Title, clearUndo: true}
				}
			}
			return m, nil
		case "a":
			m.mode = adding
			m.inputErr = ""
			m.ti.SetValue("")
			m.ti.Placeholder = "New todo title..."
			m.resize()
			return m, m.ti.Focus()
		case "e":
			if td, ok := m.selected(); ok {
				m.mode = editing
				m.target = td
				m.inputErr = ""
				m.ti.SetValue(td.Title)
				m.ti.CursorEnd()
				m.ti.Placeholder = "Edit todo title..."
				m.resize()
				return m, m.ti.Focus()
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m listModel) updateInput(msg tea.Msg) (tea.Model, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok {
		switch km.String() {
		case "enter":
			title := strings.TrimSpace(m.ti.Value())
			if title == "" {
				m.inputErr = "title is required"
				return m, nil
			}
			id, desc := "", ""
			if m.mode == editing {
				id, desc = m.target.ID, m.target.Description
			}
			m.closeInput()
			return m, m.run("saved", func(ctx context.Context) error {
				return m.ctl.Save(ctx, id, title, desc)
			})
		case "esc":
			m.closeInput()
			return m, nil
		case "ctrl+c":
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.ti, cmd = m.ti.Update(msg)
	return m, cmd
}

func (m *listModel) closeInput() {
	m.mode = browsing
	m.inputErr = ""
	m.ti.SetValue("")
	m.ti.Blur()
	m.resize()
}

// run performs fn off the update loop and reports the result as an actionMsg.
func (m listModel) run(status string, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		if err := fn(ctx); err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{status: status}
	}
}

func (m listModel) selected() (model.Todo, bool) {
	it, ok := m.list.SelectedItem().(todoItem)
	if !ok {
		return model.Todo{}, false
	}
	return it.todo, true
}

func (m *listModel) setTodos(todos []model.Todo) tea.Cmd {
	m.todos = todos
	items := make([]list.Item, len(todos))
	for i, td := range todos {
		items[i] = todoItem{todo: td}
	}
	idx := m.list.Index()
	cmd := m.list.SetItems(items)
	if idx >= len(items) && len(items) > 0 {
		m.list.Select(len(items) - 1)
	}
	m.list.Title = headerTitle(todos)
	return cmd
}

func (m *listModel) resize() {
	h := m.height - 4
	if m.mode != browsing {
		h -= 4
	}
	if m.status != "" {
		h--
	}
	if h < 3 {
		h = 3
	}
	m.list.SetSize(m.width-4, h)
}

func (m listModel) View() string {
	content := m.list.View()
	if m.mode != browsing {
		title := "Add todo"
		if m.mode == editing {
			title = "Edit todo"
		}
		if m.inputErr != "" {
			title += ": " + errorStyle.Render(m.inputErr)
		}
		content += "\n" + frameStyle.Render(title+"\n"+m.ti.View())
	}
	if m.status != "" {
		style := mutedStyle
		if m.statusErr {
			style = errorStyle
		}
		content += "\n" + style.Render(m.status)
	}
	return frameStyle.Render(content)
}

// RunList runs the interactive list until the user quits or ctx ends.
// The list follows ctl.Watch, so changes made elsewhere show up live.
func RunList(ctx context.Context, ctl ListController) error {
	p := tea.NewProgram(newListModel(ctx, ctl), tea.WithAltScreen(), tea.WithContext(ctx))
	unsub := ctl.Watch(ctx, func(todos []model.Todo) {
		p.Send(todosMsg(todos))
	})
	defer unsub()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
