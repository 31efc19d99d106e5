// SPDX-License-Identifier: MIT

// Package menu provides an interactive terminal menu system using
// charmbracelet/huh, plus a camguard-specific menu tree wired to the
// control surface over internal/cliutil. The generic Menu/MenuItem
// machinery below is unchanged infrastructure; only the constructors at
// the bottom of the file (CreateMainMenu onward) are camguard-specific.
package menu

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/fernbank/camguard/internal/cliutil"
)

// MenuItem represents a single menu option.
type MenuItem struct {
	Key         string       // Key identifier (e.g., "1", "q")
	Label       string       // Display label
	Description string       // Optional description
	Action      func() error // Action to execute
	SubMenu     *Menu        // Optional submenu
	Hidden      bool         // If true, not displayed but still accessible
}

// Menu represents a menu with multiple items.
type Menu struct {
	Title       string
	Items       []MenuItem
	Footer      string
	input       io.Reader
	output      io.Writer
	clearScreen bool
	accessible  bool // Enable accessible mode for screen readers
}

// Option is a functional option for configuring menus.
type Option func(*Menu)

// WithInput sets the input reader (for testing).
func WithInput(r io.Reader) Option {
	return func(m *Menu) {
		m.input = r
	}
}

// WithOutput sets the output writer (for testing).
func WithOutput(w io.Writer) Option {
	return func(m *Menu) {
		m.output = w
	}
}

// WithClearScreen enables screen clearing between displays.
func WithClearScreen(clear bool) Option {
	return func(m *Menu) {
		m.clearScreen = clear
	}
}

// WithAccessible enables accessible mode for screen readers.
func WithAccessible(accessible bool) Option {
	return func(m *Menu) {
		m.accessible = accessible
	}
}

// New creates a new menu.
func New(title string, opts ...Option) *Menu {
	m := &Menu{
		Title:       title,
		input:       os.Stdin,
		output:      os.Stdout,
		clearScreen: true,
		accessible:  false,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// AddItem adds an item to the menu.
func (m *Menu) AddItem(item MenuItem) {
	m.Items = append(m.Items, item)
}

// AddSeparator adds a visual separator.
func (m *Menu) AddSeparator() {
	m.Items = append(m.Items, MenuItem{Key: "", Label: ""})
}

// Display shows the menu and waits for user input.
// Returns when the user selects an action or exits.
func (m *Menu) Display() error {
	// Check if we're in test mode (non-TTY input)
	if m.input != os.Stdin {
		return m.displayWithScanner()
	}

	for {
		if m.clearScreen {
			clearScreen(m.output)
		}

		// Build options for huh.Select
		var options []huh.Option[string]
		for _, item := range m.Items {
			if item.Key == "" && item.Label == "" {
				// Skip separators in huh (they don't support separators directly)
				continue
			}
			if item.Hidden {
				continue
			}
			label := fmt.Sprintf("%s. %s", item.Key, item.Label)
			options = append(options, huh.NewOption(label, item.Key))
		}

		if len(options) == 0 {
			return nil
		}

		var choice string
		selector := huh.NewSelect[string]().
			Title(m.Title).
			Options(options...).
			Value(&choice)

		form := huh.NewForm(huh.NewGroup(selector)).
			WithAccessible(m.accessible)

		err := form.Run()
		if err != nil {
			// Handle Ctrl+C or other interrupts
			if err == huh.ErrUserAborted {
				return nil
			}
			return err
		}

		// Check for exit keys
		if choice == "0" || choice == "q" || choice == "Q" {
			return nil
		}

		// Find and execute the matching item
		for _, item := range m.Items {
			if item.Key == choice {
				if item.SubMenu != nil {
					// Copy options to submenu
					item.SubMenu.accessible = m.accessible
					if err := item.SubMenu.Display(); err != nil {
						return err
					}
				} else if item.Action != nil {
					if err := item.Action(); err != nil {
						_, _ = fmt.Fprintf(m.output, "\nError: %v\n", err)
						WaitForKey(m.input, m.output, "")
					}
				}
				break
			}
		}
	}
}

// displayWithScanner provides a fallback for non-TTY input (testing).
func (m *Menu) displayWithScanner() error {
	scanner := bufio.NewScanner(m.input)

	for {
		if m.clearScreen {
			clearScreen(m.output)
		}

		m.render()

		_, _ = fmt.Fprint(m.output, "\nSelect option: ")

		if !scanner.Scan() {
			return nil // EOF or input closed
		}

		choice := strings.TrimSpace(scanner.Text())
		if choice == "" {
			continue
		}

		// Find matching item
		for _, item := range m.Items {
			if item.Key == choice {
				if item.SubMenu != nil {
					if err := item.SubMenu.Display(); err != nil {
						return err
					}
				} else if item.Action != nil {
					if err := item.Action(); err != nil {
						_, _ = fmt.Fprintf(m.output, "\nError: %v\n", err)
						_, _ = fmt.Fprint(m.output, "Press Enter to continue...")
						scanner.Scan()
					}
				}
				break
			}
		}

		// Check for exit keys
		if choice == "0" || choice == "q" || choice == "Q" {
			return nil
		}
	}
}

// render draws the menu using box characters (for scanner fallback mode).
func (m *Menu) render() {
	// Calculate width based on longest item
	width := len(m.Title)
	for _, item := range m.Items {
		itemLen := len(item.Key) + len(item.Label) + 5
		if itemLen > width {
			width = itemLen
		}
	}
	if width < 40 {
		width = 40
	}

	// Draw box
	border := strings.Repeat("═", width)
	_, _ = fmt.Fprintf(m.output, "╔%s╗\n", border)
	_, _ = fmt.Fprintf(m.output, "║%s║\n", centerText(m.Title, width))
	_, _ = fmt.Fprintf(m.output, "╠%s╣\n", border)

	// Draw items
	for _, item := range m.Items {
		if item.Key == "" && item.Label == "" {
			// Separator
			_, _ = fmt.Fprintf(m.output, "╟%s╢\n", strings.Repeat("─", width))
		} else if item.Hidden {
			continue
		} else {
			text := fmt.Sprintf("  %s. %s", item.Key, item.Label)
			_, _ = fmt.Fprintf(m.output, "║%-*s║\n", width, text)
		}
	}

	_, _ = fmt.Fprintf(m.output, "╚%s╝\n", border)

	if m.Footer != "" {
		_, _ = fmt.Fprintf(m.output, "\n%s\n", m.Footer)
	}
}

// centerText centers text within a given width.
func centerText(text string, width int) string {
	if len(text) >= width {
		return text
	}
	padding := (width - len(text)) / 2
	return strings.Repeat(" ", padding) + text + strings.Repeat(" ", width-len(text)-padding)
}

// clearScreen clears the terminal screen.
func clearScreen(w io.Writer) {
	// ANSI escape sequence to clear screen and move cursor to top-left
	_, _ = fmt.Fprint(w, "\033[2J\033[H")
}

// WaitForKey waits for the user to press Enter.
func WaitForKey(r io.Reader, w io.Writer, prompt string) {
	if prompt == "" {
		prompt = "Press Enter to continue..."
	}
	_, _ = fmt.Fprint(w, prompt)
	bufio.NewScanner(r).Scan()
}

// Confirm asks the user for confirmation using huh.
func Confirm(r io.Reader, w io.Writer, prompt string) bool {
	// If not using stdin, fall back to scanner-based input
	if r != os.Stdin {
		return confirmWithScanner(r, w, prompt)
	}

	var confirmed bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(prompt).
				Affirmative("Yes").
				Negative("No").
				Value(&confirmed),
		),
	)

	if err := form.Run(); err != nil {
		return false
	}
	return confirmed
}

// confirmWithScanner provides scanner-based confirmation for testing.
func confirmWithScanner(r io.Reader, w io.Writer, prompt string) bool {
	_, _ = fmt.Fprintf(w, "%s [y/N]: ", prompt)

	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		return false
	}

	response := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return response == "y" || response == "yes"
}

// Select presents options and returns the selected index using huh.
func Select(r io.Reader, w io.Writer, prompt string, options []string) int {
	// If not using stdin, fall back to scanner-based input
	if r != os.Stdin {
		return selectWithScanner(r, w, prompt, options)
	}

	var choice int
	var huhOptions []huh.Option[int]
	for i, opt := range options {
		huhOptions = append(huhOptions, huh.NewOption(opt, i))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().
				Title(prompt).
				Options(huhOptions...).
				Value(&choice),
		),
	)

	if err := form.Run(); err != nil {
		return -1
	}
	return choice
}

// selectWithScanner provides scanner-based selection for testing.
func selectWithScanner(r io.Reader, w io.Writer, prompt string, options []string) int {
	_, _ = fmt.Fprintln(w, prompt)
	for i, opt := range options {
		_, _ = fmt.Fprintf(w, "  %d. %s\n", i+1, opt)
	}
	_, _ = fmt.Fprint(w, "Selection: ")

	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		return -1
	}

	var choice int
	_, err := fmt.Sscanf(strings.TrimSpace(scanner.Text()), "%d", &choice)
	if err != nil || choice < 1 || choice > len(options) {
		return -1
	}

	return choice - 1
}

// Input prompts for text input using huh.
func Input(r io.Reader, w io.Writer, prompt string) string {
	// If not using stdin, fall back to scanner-based input
	if r != os.Stdin {
		return inputWithScanner(r, w, prompt)
	}

	var value string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(prompt).
				Value(&value),
		),
	)

	if err := form.Run(); err != nil {
		return ""
	}
	return value
}

// inputWithScanner provides scanner-based input for testing.
func inputWithScanner(r io.Reader, w io.Writer, prompt string) string {
	_, _ = fmt.Fprintf(w, "%s: ", prompt)

	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		return ""
	}
	return strings.TrimSpace(scanner.Text())
}

// RunCommand runs a shell command and displays output.
func RunCommand(w io.Writer, name string, args ...string) error {
	cmd := exec.Command(name, args...) // #nosec G204 G702 -- caller is responsible for providing safe command name and args
	cmd.Stdout = w
	cmd.Stderr = w
	return cmd.Run()
}

// CreateMainMenu creates the top-level camguard operator menu, wired
// directly to the control surface through c rather than shelling out to
// a subprocess.
func CreateMainMenu(c *cliutil.Client) *Menu {
	menu := New("camguard Management Menu")

	menu.AddItem(MenuItem{
		Key:   "1",
		Label: "Status",
		Action: func() error {
			err := printStatus(c)
			WaitForKey(os.Stdin, os.Stdout, "")
			return err
		},
	})

	cameraMenu := createCameraMenu(c)
	menu.AddItem(MenuItem{
		Key:     "2",
		Label:   "Camera Control",
		SubMenu: cameraMenu,
	})

	transcodeMenu := createTranscodeMenu(c)
	menu.AddItem(MenuItem{
		Key:     "3",
		Label:   "Re-encoder",
		SubMenu: transcodeMenu,
	})

	storageMenu := createStorageMenu(c)
	menu.AddItem(MenuItem{
		Key:     "4",
		Label:   "Storage",
		SubMenu: storageMenu,
	})

	menu.AddItem(MenuItem{
		Key:   "5",
		Label: "View Recent Logs",
		Action: func() error {
			err := printLogs(c)
			WaitForKey(os.Stdin, os.Stdout, "")
			return err
		},
	})

	menu.AddSeparator()

	menu.AddItem(MenuItem{
		Key:    "0",
		Label:  "Exit",
		Action: nil, // nil action exits menu
	})

	return menu
}

// createCameraMenu creates the per-source start/stop/restart submenu.
func createCameraMenu(c *cliutil.Client) *Menu {
	menu := New("Camera Control")

	menu.AddItem(MenuItem{
		Key:   "1",
		Label: "List Cameras",
		Action: func() error {
			err := printCameras(c)
			WaitForKey(os.Stdin, os.Stdout, "")
			return err
		},
	})

	menu.AddItem(MenuItem{
		Key:   "2",
		Label: "Start a Camera",
		Action: func() error {
			id := Input(os.Stdin, os.Stdout, "Camera id (or 'all')")
			if id == "" {
				return nil
			}
			err := postCameraOp(c, id, "start")
			WaitForKey(os.Stdin, os.Stdout, "")
			return err
		},
	})

	menu.AddItem(MenuItem{
		Key:   "3",
		Label: "Stop a Camera",
		Action: func() error {
			id := Input(os.Stdin, os.Stdout, "Camera id (or 'all')")
			if id == "" {
				return nil
			}
			err := postCameraOp(c, id, "stop")
			WaitForKey(os.Stdin, os.Stdout, "")
			return err
		},
	})

	menu.AddItem(MenuItem{
		Key:   "4",
		Label: "Restart All Cameras",
		Action: func() error {
			if !Confirm(os.Stdin, os.Stdout, "Stop and restart every camera?") {
				return nil
			}
			var result map[string]interface{}
			err := c.Post(context.Background(), "/api/system/restart_cameras", &result)
			if err == nil {
				fmt.Fprintf(os.Stdout, "%v\n", result["message"])
			}
			WaitForKey(os.Stdin, os.Stdout, "")
			return err
		},
	})

	menu.AddSeparator()

	menu.AddItem(MenuItem{
		Key:   "0",
		Label: "Back to Main Menu",
	})

	return menu
}

// createTranscodeMenu creates the re-encoder status/toggle submenu.
func createTranscodeMenu(c *cliutil.Client) *Menu {
	menu := New("Re-encoder")

	menu.AddItem(MenuItem{
		Key:   "1",
		Label: "Show Status",
		Action: func() error {
			var status map[string]interface{}
			err := c.Get(context.Background(), "/api/transcoding/status", &status)
			if err == nil {
				cliutil.PrintKV(os.Stdout, status)
			}
			WaitForKey(os.Stdin, os.Stdout, "")
			return err
		},
	})

	menu.AddItem(MenuItem{
		Key:   "2",
		Label: "Enable",
		Action: func() error {
			return c.Post(context.Background(), "/api/transcoding/enable", nil)
		},
	})

	menu.AddItem(MenuItem{
		Key:   "3",
		Label: "Disable",
		Action: func() error {
			return c.Post(context.Background(), "/api/transcoding/disable", nil)
		},
	})

	menu.AddSeparator()

	menu.AddItem(MenuItem{
		Key:   "0",
		Label: "Back to Main Menu",
	})

	return menu
}

// createStorageMenu creates the disk-usage and cleanup submenu.
func createStorageMenu(c *cliutil.Client) *Menu {
	menu := New("Storage")

	menu.AddItem(MenuItem{
		Key:   "1",
		Label: "Show Usage",
		Action: func() error {
			var usage map[string]interface{}
			err := c.Get(context.Background(), "/api/storage", &usage)
			if err == nil {
				cliutil.PrintKV(os.Stdout, usage)
			}
			WaitForKey(os.Stdin, os.Stdout, "")
			return err
		},
	})

	menu.AddItem(MenuItem{
		Key:   "2",
		Label: "Preview Cleanup (dry-run)",
		Action: func() error {
			err := runCleanup(c, true)
			WaitForKey(os.Stdin, os.Stdout, "")
			return err
		},
	})

	menu.AddItem(MenuItem{
		Key:   "3",
		Label: "Run Cleanup",
		Action: func() error {
			if !Confirm(os.Stdin, os.Stdout, "Delete segments past the configured age?") {
				return nil
			}
			err := runCleanup(c, false)
			WaitForKey(os.Stdin, os.Stdout, "")
			return err
		},
	})

	menu.AddSeparator()

	menu.AddItem(MenuItem{
		Key:   "0",
		Label: "Back to Main Menu",
	})

	return menu
}

func printStatus(c *cliutil.Client) error {
	var status map[string]interface{}
	if err := c.Get(context.Background(), "/api/status", &status); err != nil {
		return err
	}
	cliutil.PrintKV(os.Stdout, status)
	return nil
}

func printCameras(c *cliutil.Client) error {
	var cameras []map[string]interface{}
	if err := c.Get(context.Background(), "/api/cameras", &cameras); err != nil {
		return err
	}
	for _, cam := range cameras {
		fmt.Printf("  %-12v %-10v %v\n", cam["id"], cam["state"], cam["name"])
	}
	return nil
}

func printLogs(c *cliutil.Client) error {
	var lines []map[string]interface{}
	if err := c.Get(context.Background(), "/api/logs?lines=50", &lines); err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Printf("[%v] %v %v\n", line["time"], line["level"], line["message"])
	}
	return nil
}

func postCameraOp(c *cliutil.Client, id, verb string) error {
	path := "/api/camera/" + id + "/" + verb
	if id == "all" {
		path = "/api/" + verb + "_all"
	}
	var result map[string]interface{}
	if err := c.Post(context.Background(), path, &result); err != nil {
		return err
	}
	fmt.Printf("%s: ok\n", id)
	return nil
}

func runCleanup(c *cliutil.Client, dryRun bool) error {
	path := "/api/storage/cleanup"
	if dryRun {
		path += "?dry_run=true"
	}
	var result map[string]interface{}
	if err := c.Post(context.Background(), path, &result); err != nil {
		return err
	}
	cliutil.PrintKV(os.Stdout, result)
	return nil
}

