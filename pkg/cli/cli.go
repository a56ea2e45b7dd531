// Package cli parses compiler command lines: long options, single-letter
// shorthands and -W/-F switch groups, with generated help pages.
package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"
)

const indentUnit = "    "

func indent(level int) string { return strings.Repeat(indentUnit, level) }

type Value interface {
	String() string
	Set(string) error
	Get() any
}

type stringValue struct{ p *string }

func (v *stringValue) Set(s string) error { *v.p = s; return nil }
func (v *stringValue) String() string     { return *v.p }
func (v *stringValue) Get() any           { return *v.p }

type boolValue struct{ p *bool }

func (v *boolValue) Set(s string) error {
	if s == "" {
		*v.p = true
		return nil
	}
	val, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("invalid boolean value '%s': %w", s, err)
	}
	*v.p = val
	return nil
}
func (v *boolValue) String() string { return strconv.FormatBool(*v.p) }
func (v *boolValue) Get() any       { return *v.p }

type listValue struct{ p *[]string }

func (v *listValue) Set(s string) error { *v.p = append(*v.p, s); return nil }
func (v *listValue) String() string     { return strings.Join(*v.p, ", ") }
func (v *listValue) Get() any           { return *v.p }

type intValue struct{ p *int }

func (v *intValue) Set(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid integer value '%s'", s)
	}
	*v.p = n
	return nil
}
func (v *intValue) String() string { return strconv.Itoa(*v.p) }
func (v *intValue) Get() any       { return *v.p }

type durationValue struct{ p *time.Duration }

func (v *durationValue) Set(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration '%s': %w", s, err)
	}
	*v.p = d
	return nil
}
func (v *durationValue) String() string { return v.p.String() }
func (v *durationValue) Get() any       { return *v.p }

type Flag struct {
	Name         string
	Shorthand    string
	Usage        string
	Value        Value
	DefValue     string
	ExpectedType string
	// Section is the help page heading the flag is listed under.
	Section string
}

func (f *Flag) isBool() bool {
	_, ok := f.Value.(*boolValue)
	return ok
}

type FlagGroup struct {
	Name                 string
	Description          string
	Flags                []FlagGroupEntry
	GroupType            string
	AvailableFlagsHeader string
}

// FlagGroupEntry is one switch of a group, spelled -<Prefix><Name> to enable
// and -<Prefix>no-<Name> to disable.
type FlagGroupEntry struct {
	Name     string
	Prefix   string
	Usage    string
	Enabled  *bool
	Disabled *bool
}

type FlagSet struct {
	name       string
	flags      map[string]*Flag
	shorthands map[string]*Flag
	grouped    map[string]bool
	section    string
	sections   []string
	args       []string
	flagGroups []FlagGroup
}

func NewFlagSet(name string) *FlagSet {
	return &FlagSet{
		name:       name,
		flags:      make(map[string]*Flag),
		shorthands: make(map[string]*Flag),
		grouped:    make(map[string]bool),
	}
}

func (f *FlagSet) Args() []string { return f.args }

func (f *FlagSet) Lookup(name string) *Flag { return f.flags[name] }

// Section starts a help page section; flags defined afterwards are listed
// under it. The empty name returns to the default "Options" section.
func (f *FlagSet) Section(name string) {
	f.section = name
	for _, s := range f.sections {
		if s == name { return }
	}
	if name != "" {
		f.sections = append(f.sections, name)
	}
}

func (f *FlagSet) String(p *string, name, shorthand, value, usage, expectedType string) {
	*p = value
	f.Var(&stringValue{p}, name, shorthand, usage, value, expectedType)
}

func (f *FlagSet) Bool(p *bool, name, shorthand string, value bool, usage string) {
	*p = value
	f.Var(&boolValue{p}, name, shorthand, usage, strconv.FormatBool(value), "")
}

func (f *FlagSet) List(p *[]string, name, shorthand string, value []string, usage, expectedType string) {
	*p = value
	f.Var(&listValue{p}, name, shorthand, usage, strings.Join(value, ","), expectedType)
}

func (f *FlagSet) Int(p *int, name, shorthand string, value int, usage string) {
	*p = value
	f.Var(&intValue{p}, name, shorthand, usage, strconv.Itoa(value), "n")
}

func (f *FlagSet) Duration(p *time.Duration, name, shorthand string, value time.Duration, usage string) {
	*p = value
	f.Var(&durationValue{p}, name, shorthand, usage, value.String(), "duration")
}

func (f *FlagSet) Var(value Value, name, shorthand, usage, defValue, expectedType string) {
	if name == "" {
		panic("flag name cannot be empty")
	}
	if _, ok := f.flags[name]; ok {
		panic(fmt.Sprintf("flag redefined: %s", name))
	}
	flag := &Flag{Name: name, Shorthand: shorthand, Usage: usage, Value: value, DefValue: defValue, ExpectedType: expectedType, Section: f.section}
	f.flags[name] = flag
	if shorthand != "" {
		if _, ok := f.shorthands[shorthand]; ok {
			panic(fmt.Sprintf("shorthand flag redefined: %s", shorthand))
		}
		f.shorthands[shorthand] = flag
	}
}

// AddFlagGroup registers an enable and a disable switch for every entry.
func (f *FlagSet) AddFlagGroup(name, description, groupType, availableFlagsHeader string, entries []FlagGroupEntry) {
	for i := range entries {
		e := &entries[i]
		if e.Enabled != nil {
			f.Bool(e.Enabled, e.Prefix+e.Name, "", *e.Enabled, e.Usage)
			f.grouped[e.Prefix+e.Name] = true
		}
		if e.Disabled != nil {
			f.Bool(e.Disabled, e.Prefix+"no-"+e.Name, "", *e.Disabled, "Disable '"+e.Name+"'")
			f.grouped[e.Prefix+"no-"+e.Name] = true
		}
	}
	f.flagGroups = append(f.flagGroups, FlagGroup{
		Name:                 name,
		Description:          description,
		Flags:                entries,
		GroupType:            groupType,
		AvailableFlagsHeader: availableFlagsHeader,
	})
}

// Parse reads flags up to the end of arguments or a "--". A single dash may
// introduce a long name ("-Wextra") as well as a shorthand ("-o file",
// "-ofile").
func (f *FlagSet) Parse(arguments []string) error {
	f.args = []string{}
	for i := 0; i < len(arguments); i++ {
		arg := arguments[i]
		switch {
		case len(arg) < 2 || arg[0] != '-':
			f.args = append(f.args, arg)
			continue
		case arg == "--":
			f.args = append(f.args, arguments[i+1:]...)
			return nil
		}

		long := strings.HasPrefix(arg, "--")
		body := strings.TrimLeft(arg, "-")
		name, inline, hasInline := strings.Cut(body, "=")
		if name == "" {
			return fmt.Errorf("empty flag name")
		}
		flag, ok := f.flags[name]
		display := "--" + name
		if !ok && long {
			return fmt.Errorf("unknown flag: --%s", name)
		}
		if !ok {
			// -<shorthand><value>
			display = "-" + body[:1]
			if flag, ok = f.shorthands[body[:1]]; !ok {
				return fmt.Errorf("unknown shorthand flag: %s", display)
			}
			inline, hasInline = strings.TrimPrefix(body[1:], "="), len(body) > 1
			if flag.isBool() && hasInline {
				return fmt.Errorf("flag %s takes no value", display)
			}
		}

		switch {
		case hasInline:
			if err := flag.Value.Set(inline); err != nil { return err }
		case flag.isBool():
			if err := flag.Value.Set(""); err != nil { return err }
		default:
			if i+1 >= len(arguments) {
				return fmt.Errorf("flag needs an argument: %s", display)
			}
			i++
			if err := flag.Value.Set(arguments[i]); err != nil { return err }
		}
	}
	return nil
}

type App struct {
	Name        string
	Synopsis    string
	Description string
	Authors     []string
	Repository  string
	Since       int
	// InputHint names the positional arguments in the usage line.
	InputHint string
	FlagSet   *FlagSet
	Action    func(args []string) error
	// Stdout and Stderr receive the help and usage pages.
	Stdout io.Writer
	Stderr io.Writer

	help bool
}

func NewApp(name string) *App {
	a := &App{
		Name:      name,
		InputHint: "[input] ...",
		FlagSet:   NewFlagSet(name),
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
	}
	a.FlagSet.Bool(&a.help, "help", "h", false, "Display this information")
	return a
}

func (a *App) Run(arguments []string) error {
	a.help = false
	if err := a.FlagSet.Parse(arguments); err != nil {
		fmt.Fprintf(a.Stderr, "%s: %v\n", a.Name, err)
		a.writeUsage(a.Stderr)
		return err
	}
	if a.help {
		a.writeHelp(a.Stdout)
		return nil
	}
	if a.Action != nil {
		return a.Action(a.FlagSet.Args())
	}
	return nil
}

// layout holds the column widths shared by every entry of a page.
type layout struct {
	term  int
	left  int
	usage int
}

func (a *App) newLayout(w io.Writer) layout {
	l := layout{term: terminalWidth(w)}
	grow := func(n *int, s string) {
		if len(s) > *n {
			*n = len(s)
		}
	}
	for _, flag := range a.optionFlags() {
		grow(&l.left, formatFlagString(flag))
		grow(&l.usage, flag.Usage)
	}
	for _, group := range a.FlagSet.flagGroups {
		if len(group.Flags) == 0 { continue }
		prefix, kind := group.Flags[0].Prefix, groupKind(group)
		grow(&l.left, fmt.Sprintf("-%s<%s>", prefix, kind))
		grow(&l.left, fmt.Sprintf("-%sno-<%s>", prefix, kind))
		for _, entry := range group.Flags {
			grow(&l.left, entry.Name)
			grow(&l.usage, entry.Usage)
		}
	}
	return l
}

func (a *App) writeUsage(w io.Writer) {
	var sb strings.Builder
	l := a.newLayout(w)
	fmt.Fprintf(&sb, "Usage: %s <options> %s\n", a.Name, a.InputHint)
	a.writeOptions(&sb, l)
	fmt.Fprintf(&sb, "\nRun '%s --help' for all available options and flags.\n", a.Name)
	fmt.Fprint(w, sb.String())
}

func (a *App) writeHelp(w io.Writer) {
	var sb strings.Builder
	l := a.newLayout(w)

	year := time.Now().Year()
	span := strconv.Itoa(year)
	if a.Since > 0 && a.Since < year {
		span = fmt.Sprintf("%d-%d", a.Since, year)
	}
	fmt.Fprintf(&sb, "\n%sCopyright (c) %s: %s and contributors\n", indent(1), span, strings.Join(a.Authors, ", "))
	if a.Repository != "" {
		fmt.Fprintf(&sb, "%sFor more details refer to %s\n", indent(1), a.Repository)
	}
	if a.Synopsis != "" {
		synopsis := strings.NewReplacer("[", "<", "]", ">").Replace(a.Synopsis)
		fmt.Fprintf(&sb, "\n%sSynopsis\n%s%s %s\n", indent(1), indent(2), a.Name, synopsis)
	}
	if a.Description != "" {
		fmt.Fprintf(&sb, "\n%sDescription\n", indent(1))
		for _, line := range wrapText(a.Description, l.term-len(indent(2))) {
			fmt.Fprintf(&sb, "%s%s\n", indent(2), line)
		}
	}
	a.writeOptions(&sb, l)

	groups := append([]FlagGroup(nil), a.FlagSet.flagGroups...)
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	for _, group := range groups {
		writeFlagGroup(&sb, group, l)
	}
	fmt.Fprint(w, sb.String())
}

// writeOptions lists the plain flags: the default section first, then the
// named sections in the order they were started.
func (a *App) writeOptions(sb *strings.Builder, l layout) {
	bySection := make(map[string][]*Flag)
	for _, flag := range a.optionFlags() {
		bySection[flag.Section] = append(bySection[flag.Section], flag)
	}
	for _, section := range append([]string{""}, a.FlagSet.sections...) {
		flags := bySection[section]
		if len(flags) == 0 { continue }
		title := section
		if title == "" {
			title = "Options"
		}
		fmt.Fprintf(sb, "\n%s%s\n", indent(1), title)
		sort.Slice(flags, func(i, j int) bool { return flags[i].Name < flags[j].Name })
		for _, flag := range flags {
			right := ""
			if flag.DefValue != "" && !flag.isBool() {
				right = "|" + flag.DefValue + "|"
			}
			writeEntry(sb, l, formatFlagString(flag), flag.Usage, right)
		}
	}
}

func (a *App) optionFlags() []*Flag {
	var out []*Flag
	for name, flag := range a.FlagSet.flags {
		if !a.FlagSet.grouped[name] {
			out = append(out, flag)
		}
	}
	return out
}

func groupKind(group FlagGroup) string {
	if group.GroupType != "" {
		return group.GroupType
	}
	return "flag"
}

func formatFlagString(flag *Flag) string {
	var sb strings.Builder
	if flag.Shorthand != "" {
		fmt.Fprintf(&sb, "-%s", flag.Shorthand)
		if !flag.isBool() {
			fmt.Fprintf(&sb, " <%s>", flag.ExpectedType)
		}
		sb.WriteString(", ")
	}
	fmt.Fprintf(&sb, "--%s", flag.Name)
	switch {
	case flag.isBool() || flag.ExpectedType == "":
	case flag.Shorthand != "":
		fmt.Fprintf(&sb, " <%s>", flag.ExpectedType)
	default:
		fmt.Fprintf(&sb, "=%s", flag.ExpectedType)
	}
	return sb.String()
}

// writeEntry prints one "left  usage  |right|" row, wrapping the usage text
// under its own column.
func writeEntry(sb *strings.Builder, l layout, left, usage, right string) {
	lead := indent(2)
	width := l.term - len(lead) - l.left - 1 - 2 - len(right)
	if width < 10 {
		width = 10
	}
	lines := wrapText(usage, width)
	first := ""
	if len(lines) > 0 {
		first = lines[0]
	}
	if right != "" {
		fmt.Fprintf(sb, "%s%-*s %-*s  %s\n", lead, l.left, left, min(l.usage, width), first, right)
	} else {
		fmt.Fprintf(sb, "%s%-*s %s\n", lead, l.left, left, first)
	}
	for _, line := range lines[min(1, len(lines)):] {
		fmt.Fprintf(sb, "%s%s%s\n", lead, strings.Repeat(" ", l.left+1), line)
	}
}

func writeFlagGroup(sb *strings.Builder, group FlagGroup, l layout) {
	if len(group.Flags) == 0 { return }
	prefix, kind := group.Flags[0].Prefix, groupKind(group)
	fmt.Fprintf(sb, "\n%s%s\n", indent(1), group.Name)
	fmt.Fprintf(sb, "%s%-*s Enable a specific %s\n", indent(2), l.left, fmt.Sprintf("-%s<%s>", prefix, kind), kind)
	fmt.Fprintf(sb, "%s%-*s Disable a specific %s\n", indent(2), l.left, fmt.Sprintf("-%sno-<%s>", prefix, kind), kind)
	if group.AvailableFlagsHeader != "" {
		fmt.Fprintf(sb, "%s%s\n", indent(1), group.AvailableFlagsHeader)
	}

	entries := append([]FlagGroupEntry(nil), group.Flags...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	for _, entry := range entries {
		state := "|-|"
		if entry.Enabled != nil && *entry.Enabled && (entry.Disabled == nil || !*entry.Disabled) {
			state = "|x|"
		}
		writeEntry(sb, l, entry.Name, entry.Usage, state)
	}
}

// terminalWidth is the width of w when it is a terminal, else 80.
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 80
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 80
	}
	return max(width, 20)
}

func wrapText(text string, maxWidth int) []string {
	if maxWidth <= 0 {
		return []string{text}
	}
	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > maxWidth {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return lines
}
