// Package ui is the terminal front end of a finder.Form: one text input per
// kind, a suggestion dropdown under the focused input, and a prompt for
// duplicate resolution.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"github.com/go-logr/logr"
	"github.com/mattn/go-runewidth"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/oakwood-commons/unifind/internal/dispatch"
	"github.com/oakwood-commons/unifind/internal/entity"
	"github.com/oakwood-commons/unifind/internal/finder"
	"github.com/oakwood-commons/unifind/internal/render"
)

const (
	defaultMaxRows = 8
	createTimeout  = 15 * time.Second
	regionTimeout  = 5 * time.Second
	helpLine       = "↑/↓ move · enter select · tab next field · ctrl+a add · ctrl+s done · ctrl+c quit"
)

// Options configures New.
type Options struct {
	// Kinds are the kinds shown; their ancestors are added. Empty shows all.
	Kinds      []entity.Kind
	NoColor    bool
	MaxRows    int
	Similarity float32
	Dispatch   []dispatch.Option
	Logger     logr.Logger
	// OnSelect is called after the form's own handling of a selection.
	OnSelect func(kind entity.Kind, cand *entity.Candidate)
	// Regions suggests values for region fields. When nil, the backend is
	// used if it implements RegionSource.
	Regions RegionSource
}

// RegionSource looks up known regions containing text.
type RegionSource interface {
	SearchRegions(ctx context.Context, text string) ([]string, error)
}

type field struct {
	kind  entity.Kind
	disc  bool
	label string
	input textinput.Model

	// Region suggestions; seq drops lookups for text that has since changed.
	regions []string
	pick    int
	seq     uint64
}

type resultMsg struct{ res dispatch.Result }

type regionsMsg struct {
	field   *field
	seq     uint64
	regions []string
}

type formClosedMsg struct{}

// Model is the Bubble Tea model driving one form. All form calls happen on
// the Update goroutine.
type Model struct {
	form    *finder.Form
	reg     *entity.Registry
	rows    *render.Renderer
	regions RegionSource
	log     logr.Logger
	fields  []*field
	focus   int
	labelW  int
	styles  Styles
	maxRows int
	width   int

	status    string
	statusErr bool
	// confirm is the kind whose create is waiting on navigate or abandon.
	confirm entity.Kind

	finished bool
	ctx      context.Context
	cancel   context.CancelFunc
	onSelect func(entity.Kind, *entity.Candidate)
}

// New builds a form over backend and the model that edits it.
func New(reg *entity.Registry, backend finder.Backend, opts Options) (*Model, error) {
	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	rows, err := render.New(reg, log)
	if err != nil {
		return nil, err
	}
	m := &Model{
		reg:      reg,
		rows:     rows,
		regions:  opts.Regions,
		log:      log,
		styles:   DefaultStyles(opts.NoColor),
		maxRows:  opts.MaxRows,
		onSelect: opts.OnSelect,
	}
	if m.maxRows <= 0 {
		m.maxRows = defaultMaxRows
	}
	if m.regions == nil {
		if rs, ok := backend.(RegionSource); ok {
			m.regions = rs
		}
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	formOpts := []finder.Option{
		finder.WithName("tui"),
		finder.WithLogger(log),
		finder.WithDispatchOptions(opts.Dispatch...),
		finder.WithCallbacks(finder.Callbacks{
			OnSelect:    m.selected,
			OnNoResults: m.noResults,
			OnExists:    m.exists,
		}),
	}
	if len(opts.Kinds) > 0 {
		formOpts = append(formOpts, finder.WithKinds(opts.Kinds...))
	}
	if opts.Similarity > 0 {
		formOpts = append(formOpts, finder.WithSimilarity(opts.Similarity))
	}
	form, err := finder.NewForm(reg, backend, formOpts...)
	if err != nil {
		m.cancel()
		return nil, err
	}
	m.form = form

	title := cases.Title(language.English)
	for _, k := range form.Kinds() {
		spec, _ := reg.Spec(k)
		m.fields = append(m.fields, newField(k, false, spec.DisplayLabel()))
		if spec.HasDiscriminator() {
			m.fields = append(m.fields, newField(k, true, title.String(spec.Discriminator)))
		}
	}
	for _, f := range m.fields {
		m.labelW = max(m.labelW, runewidth.StringWidth(f.label))
	}
	m.fields[0].input.Focus()
	form.Control(m.fields[0].kind).Focus()
	return m, nil
}

func newField(kind entity.Kind, disc bool, label string) *field {
	ti := textinput.New()
	ti.Prompt = ""
	ti.CharLimit = 200
	ti.SetWidth(40)
	if disc {
		ti.Placeholder = strings.ToLower(label)
	} else {
		ti.Placeholder = "type to search"
	}
	return &field{kind: kind, disc: disc, label: label, input: ti, pick: -1}
}

// Form returns the underlying form.
func (m *Model) Form() *finder.Form { return m.form }

// Finished reports whether the user confirmed the form with ctrl+s.
func (m *Model) Finished() bool { return m.finished }

// Selections returns the committed candidates by kind.
func (m *Model) Selections() map[entity.Kind]entity.Candidate { return m.form.Selections() }

// Status returns the current status line text.
func (m *Model) Status() string { return m.status }

// Close stops the form's outstanding searches.
func (m *Model) Close() {
	m.cancel()
	m.form.Close()
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForResult())
}

func (m *Model) waitForResult() tea.Cmd {
	return func() tea.Msg {
		res, err := m.form.Next(m.ctx)
		if err != nil {
			return formClosedMsg{}
		}
		return resultMsg{res: res}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		w := max(msg.Width-m.labelW-20, 10)
		for _, f := range m.fields {
			f.input.SetWidth(w)
		}
		return m, nil
	case resultMsg:
		m.form.Apply(msg.res)
		m.sync()
		return m, m.waitForResult()
	case formClosedMsg:
		return m, nil
	case regionsMsg:
		m.showRegions(msg)
		return m, nil
	case tea.KeyPressMsg:
		return m.handleKey(msg)
	}
	var cmd tea.Cmd
	f := m.current()
	f.input, cmd = f.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if m.confirm != "" {
		return m.handleConfirm(key)
	}

	action := FormAction(key)
	switch action {
	case ActionQuit:
		m.Close()
		return m, tea.Quit
	case ActionFinish:
		m.finished = true
		m.Close()
		return m, tea.Quit
	case ActionNext:
		return m, m.moveFocus(1)
	case ActionPrev:
		return m, m.moveFocus(-1)
	case ActionCreate:
		m.create()
		m.sync()
		return m, nil
	case ActionClear:
		f := m.current()
		f.input.SetValue("")
		m.applyText(f, "")
		m.sync()
		return m, nil
	case ActionDown, ActionUp, ActionEnter, ActionEscape:
		f := m.current()
		if !f.disc && m.form.Control(f.kind).Key(NavKey(action)) {
			m.sync()
			return m, nil
		}
		if f.disc && m.regionKey(f, action) {
			return m, nil
		}
		switch action {
		case ActionEscape:
			m.form.Outside()
		case ActionEnter:
			return m, m.moveFocus(1)
		}
		return m, nil
	}

	f := m.current()
	before := f.input.Value()
	var cmd tea.Cmd
	f.input, cmd = f.input.Update(msg)
	if v := f.input.Value(); v != before {
		if lookup := m.applyText(f, v); lookup != nil {
			cmd = tea.Batch(cmd, lookup)
		}
	}
	m.sync()
	return m, cmd
}

func (m *Model) handleConfirm(key string) (tea.Model, tea.Cmd) {
	kind := m.confirm
	switch ConfirmAction(key) {
	case ActionQuit:
		m.Close()
		return m, tea.Quit
	case ActionNavigate:
		m.confirm = ""
		if _, err := m.form.ResolveExisting(kind, finder.Navigate); err != nil {
			m.setError(err)
		}
	case ActionAbandon:
		m.confirm = ""
		if _, err := m.form.ResolveExisting(kind, finder.Abandon); err != nil {
			m.setError(err)
		} else {
			m.setStatus("Kept your text; pick a suggestion or change the name.")
		}
	}
	m.sync()
	return m, nil
}

// applyText forwards an edit to the control. For a region field it returns
// the suggestion lookup to run, if any.
func (m *Model) applyText(f *field, v string) tea.Cmd {
	c := m.form.Control(f.kind)
	if f.disc {
		c.SetDiscriminator(v)
		return m.lookupRegions(f, v)
	}
	c.SetText(v)
	return nil
}

func (m *Model) lookupRegions(f *field, text string) tea.Cmd {
	f.seq++
	f.regions = nil
	f.pick = -1
	text = strings.TrimSpace(text)
	if m.regions == nil || text == "" {
		return nil
	}
	seq, src, ctx := f.seq, m.regions, m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, regionTimeout)
		defer cancel()
		regions, err := src.SearchRegions(ctx, text)
		if err != nil {
			m.log.V(1).Info("region lookup failed", "text", text, "error", err.Error())
			regions = nil
		}
		return regionsMsg{field: f, seq: seq, regions: regions}
	}
}

func (m *Model) showRegions(msg regionsMsg) {
	f := msg.field
	if f == nil || msg.seq != f.seq {
		return
	}
	f.pick = -1
	f.regions = nil
	v := strings.TrimSpace(f.input.Value())
	for _, r := range msg.regions {
		if entity.SameName(r, v) {
			// Already typed in full.
			return
		}
	}
	f.regions = msg.regions
}

// regionKey drives the region suggestion list and reports whether the key
// was consumed.
func (m *Model) regionKey(f *field, action Action) bool {
	n := len(f.regions)
	if n == 0 {
		return false
	}
	switch action {
	case ActionDown:
		f.pick = (f.pick + 1) % n
	case ActionUp:
		if f.pick < 0 {
			f.pick = n - 1
		} else {
			f.pick = (f.pick - 1 + n) % n
		}
	case ActionEnter:
		i := f.pick
		if i < 0 && n == 1 {
			i = 0
		}
		if i < 0 {
			return false
		}
		region := f.regions[i]
		f.input.SetValue(region)
		f.input.CursorEnd()
		m.form.Control(f.kind).SetDiscriminator(region)
		m.closeRegions(f)
	case ActionEscape:
		m.closeRegions(f)
	default:
		return false
	}
	return true
}

func (m *Model) closeRegions(f *field) {
	f.seq++
	f.regions = nil
	f.pick = -1
}

func (m *Model) current() *field { return m.fields[m.focus] }

// moveFocus counts as an interaction outside the current control.
func (m *Model) moveFocus(delta int) tea.Cmd {
	m.form.Outside()
	m.closeRegions(m.current())
	m.current().input.Blur()
	n := len(m.fields)
	m.focus = ((m.focus+delta)%n + n) % n
	f := m.current()
	if !f.disc {
		m.form.Control(f.kind).Focus()
	}
	m.sync()
	return f.input.Focus()
}

func (m *Model) create() {
	f := m.current()
	spec, _ := m.reg.Spec(f.kind)
	ctx, cancel := context.WithTimeout(m.ctx, createTimeout)
	defer cancel()
	out, err := m.form.SubmitCreate(ctx, f.kind)
	var ve *entity.ValidationError
	switch {
	case errors.As(err, &ve):
		m.setError(validationMessage(m.reg, spec, ve))
	case err != nil:
		m.setError(err)
	case out.Created != nil:
		msg := fmt.Sprintf("Added %s %q (#%d).", strings.ToLower(spec.DisplayLabel()), out.Created.Name, out.Created.ID)
		if len(out.Similar) > 0 {
			names := make([]string, 0, len(out.Similar))
			for _, s := range out.Similar {
				names = append(names, s.Name)
			}
			msg += " Similar: " + strings.Join(names, ", ")
		}
		m.setStatus(msg)
	}
}

func validationMessage(reg *entity.Registry, spec entity.Spec, ve *entity.ValidationError) error {
	switch {
	case errors.Is(ve, entity.ErrParentRequired):
		parent, _ := reg.Spec(spec.Parent)
		return fmt.Errorf("select a %s first", strings.ToLower(parent.DisplayLabel()))
	case errors.Is(ve, entity.ErrDiscriminatorRequired):
		return fmt.Errorf("%s is required", spec.Discriminator)
	case errors.Is(ve, entity.ErrNameRequired):
		return errors.New("type a name first")
	}
	return ve
}

// sync copies control state back into the inputs after commits and
// cascades rewrote it.
func (m *Model) sync() {
	for _, f := range m.fields {
		c := m.form.Control(f.kind)
		want := c.Text()
		if f.disc {
			want = c.Discriminator()
		}
		if f.input.Value() != want {
			f.input.SetValue(want)
		}
	}
}

func (m *Model) selected(kind entity.Kind, cand *entity.Candidate) {
	spec, _ := m.reg.Spec(kind)
	if cand != nil {
		m.setStatus(fmt.Sprintf("%s: %s", spec.DisplayLabel(), m.rows.Row(kind, *cand)))
	} else if kind == m.current().kind {
		m.setStatus(fmt.Sprintf("%s cleared.", spec.DisplayLabel()))
	}
	if m.onSelect != nil {
		m.onSelect(kind, cand)
	}
}

func (m *Model) noResults(text string, kind entity.Kind) {
	spec, _ := m.reg.Spec(kind)
	m.setStatus(fmt.Sprintf("No %s matches %q. Press ctrl+a to add it.", strings.ToLower(spec.DisplayLabel()), text))
}

func (m *Model) exists(kind entity.Kind, existing entity.Candidate) {
	spec, _ := m.reg.Spec(kind)
	m.confirm = kind
	m.statusErr = false
	m.status = fmt.Sprintf("%s %q already exists (#%d). enter: select it · esc: keep editing",
		spec.DisplayLabel(), m.rows.Row(kind, existing), existing.ID)
}

func (m *Model) setStatus(s string) {
	m.status = s
	m.statusErr = false
}

func (m *Model) setError(err error) {
	m.status = err.Error()
	m.statusErr = true
}

func (m *Model) View() tea.View {
	return tea.NewView(m.render())
}

func (m *Model) render() string {
	var b strings.Builder
	for i, f := range m.fields {
		c := m.form.Control(f.kind)
		focused := i == m.focus

		label := runewidth.FillRight(f.label, m.labelW)
		switch {
		case focused:
			label = m.styles.LabelActive.Render(label)
		case !f.disc && c.Blocked():
			label = m.styles.LabelMuted.Render(label)
		default:
			label = m.styles.Label.Render(label)
		}
		marker := "  "
		if focused {
			marker = "› "
		}
		b.WriteString(marker + label + "  " + f.input.View())
		if !f.disc {
			b.WriteString(m.annotations(c))
		}
		b.WriteString("\n")
		if focused && !f.disc && c.Open() {
			b.WriteString(m.dropdown(c))
		}
		if focused && f.disc && len(f.regions) > 0 {
			b.WriteString(m.regionList(f))
		}
	}
	b.WriteString("\n")
	if m.status != "" {
		style := m.styles.Status
		if m.statusErr {
			style = m.styles.StatusError
		}
		if m.confirm != "" {
			style = m.styles.Warning
		}
		b.WriteString(style.Render(m.truncate(m.status, 0)) + "\n")
	}
	b.WriteString(m.styles.Help.Render(m.truncate(helpLine, 0)) + "\n")
	return b.String()
}

func (m *Model) annotations(c *finder.Control) string {
	var parts []string
	if sel := c.Selected(); sel != nil {
		parts = append(parts, m.styles.Committed.Render(fmt.Sprintf("✓ #%d", sel.ID)))
	}
	if c.Blocked() {
		parent, _ := m.reg.Spec(c.Spec().Parent)
		parts = append(parts, m.styles.Hint.Render("select a "+strings.ToLower(parent.DisplayLabel())+" first"))
	}
	if c.Loading() {
		parts = append(parts, m.styles.Hint.Render("searching…"))
	}
	if ex := c.ExistingMatch(); ex != nil && c.Selected() == nil {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("exists as #%d", ex.ID)))
	}
	if len(parts) == 0 {
		return ""
	}
	return "  " + strings.Join(parts, " ")
}

func (m *Model) dropdown(c *finder.Control) string {
	items := c.Suggestions()
	hl := c.Highlight()
	start := 0
	if hl >= m.maxRows {
		start = hl - m.maxRows + 1
	}
	end := min(start+m.maxRows, len(items))
	indent := strings.Repeat(" ", m.labelW+4)

	var b strings.Builder
	for i := start; i < end; i++ {
		row := m.truncate(m.rows.Row(c.Kind(), items[i]), len(indent)+2)
		if i == hl {
			b.WriteString(indent + m.styles.RowSelected.Render("▸ "+row) + "\n")
			continue
		}
		b.WriteString(indent + m.styles.Row.Render("  "+row) + "\n")
	}
	if rest := len(items) - end; rest > 0 {
		b.WriteString(indent + m.styles.Hint.Render(fmt.Sprintf("  … %d more", rest)) + "\n")
	}
	return b.String()
}

func (m *Model) regionList(f *field) string {
	indent := strings.Repeat(" ", m.labelW+4)
	end := min(len(f.regions), m.maxRows)
	var b strings.Builder
	for i := 0; i < end; i++ {
		row := m.truncate(f.regions[i], len(indent)+2)
		if i == f.pick {
			b.WriteString(indent + m.styles.RowSelected.Render("▸ "+row) + "\n")
			continue
		}
		b.WriteString(indent + m.styles.Row.Render("  "+row) + "\n")
	}
	if rest := len(f.regions) - end; rest > 0 {
		b.WriteString(indent + m.styles.Hint.Render(fmt.Sprintf("  … %d more", rest)) + "\n")
	}
	return b.String()
}

func (m *Model) truncate(s string, used int) string {
	if m.width <= 0 {
		return s
	}
	return runewidth.Truncate(s, max(m.width-used, 1), "…")
}
