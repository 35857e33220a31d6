// Package wizard provides the interactive terminal setup for the review
// booster daemon. Invoke with: reviewbooster setup
package wizard

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/term"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/auth"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/platform"
)

// Answers holds all values collected during the wizard.
type Answers struct {
	Port           string
	AdminUsername  string
	AdminPassword  string
	WorkDir        string
	PublicURL      string
	TwilioSID      string
	TwilioToken    string
	TwilioFrom     string
	DryRun         bool
	TelegramToken  string
	TelegramChatID string
}

// TelegramProbe verifies a bot token and waits for the operator's first
// message. The default uses the Bot API.
type TelegramProbe interface {
	Verify(token string) (username string, err error)
	WaitForChat(token string, timeout time.Duration) (chatID int64, name string, err error)
}

// Wizard runs the prompts over in/out.
type Wizard struct {
	in       *bufio.Reader
	out      io.Writer
	password func() (string, error)
	telegram TelegramProbe
	// EnvPath is where the answers are written. Default ".env".
	EnvPath string
}

// New creates a Wizard reading from in and writing to out. Passwords are
// read without echo when in is a terminal.
func New(in io.Reader, out io.Writer) *Wizard {
	w := &Wizard{in: bufio.NewReader(in), out: out, telegram: botAPIProbe{}, EnvPath: ".env"}
	w.password = w.readPassword
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		w.password = func() (string, error) {
			b, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(w.out)
			return string(b), err
		}
	}
	return w
}

// WithTelegram replaces the Telegram probe.
func (w *Wizard) WithTelegram(p TelegramProbe) *Wizard {
	w.telegram = p
	return w
}

// ── Entry point ───────────────────────────────────────────────────────────────

// Run executes the interactive setup. On confirmation it writes EnvPath.
func (w *Wizard) Run(version string) (*Answers, error) {
	w.banner(version)

	a := &Answers{}
	var err error

	if a.Port, err = w.stepPort(); err != nil {
		return nil, fmt.Errorf("wizard: port: %w", err)
	}
	if a.AdminUsername, a.AdminPassword, err = w.stepAdmin(); err != nil {
		return nil, fmt.Errorf("wizard: admin: %w", err)
	}
	a.WorkDir = w.stepWorkDir()
	a.PublicURL = w.stepPublicURL()
	w.stepTwilio(a)
	a.TelegramToken, a.TelegramChatID = w.stepTelegram()

	if !w.stepConfirm(a) {
		fmt.Fprintln(w.out, "\n  Cancelled. No changes made.")
		return a, nil
	}
	if err := WriteEnv(w.EnvPath, a); err != nil {
		return nil, fmt.Errorf("wizard: %w", err)
	}
	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "  "+c("\033[32m", "✓")+" "+w.EnvPath+" saved. Run reviewbooster serve to start.")
	PrintDashboardURLs(w.out, a.Port)
	return a, nil
}

// ── Banner ────────────────────────────────────────────────────────────────────

func (w *Wizard) banner(version string) {
	const width = 56
	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, c("\033[36m", "╔"+strings.Repeat("═", width)+"╗"))
	w.bannerLine("", width)
	w.bannerLine("  Review Booster "+version, width)
	w.bannerLine("  SMS review requests and cost estimates", width)
	w.bannerLine("", width)
	fmt.Fprintln(w.out, c("\033[36m", "╚"+strings.Repeat("═", width)+"╝"))
	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "  Press Enter to accept defaults, Ctrl+C to cancel.")
}

func (w *Wizard) bannerLine(text string, width int) {
	pad := width - len([]rune(text))
	if pad < 0 {
		pad = 0
	}
	fmt.Fprintln(w.out, c("\033[36m", "║")+text+strings.Repeat(" ", pad)+c("\033[36m", "║"))
}

func (w *Wizard) step(n int, title string) {
	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, c("\033[33m", fmt.Sprintf("━━━  %d / 6  ·  %s  ━━━━━━━━━━━━━━━━━━━━", n, title)))
	fmt.Fprintln(w.out)
}

// ── Step 1: Port ──────────────────────────────────────────────────────────────

func (w *Wizard) stepPort() (string, error) {
	w.step(1, "PORT")
	for attempt := 0; attempt < 5; attempt++ {
		p := w.prompt("Listen port [8080]", "8080")
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 1 || n > 65535 {
			fmt.Fprintln(w.out, "  "+c("\033[31m", "✗")+" Invalid port. Enter a number 1-65535.")
			continue
		}
		ln, err := net.Listen("tcp", ":"+strconv.Itoa(n))
		if err != nil {
			fmt.Fprintf(w.out, "  %s Port %d is in use. Pick another.\n", c("\033[31m", "✗"), n)
			continue
		}
		ln.Close()
		return strconv.Itoa(n), nil
	}
	return "", fmt.Errorf("no usable port chosen")
}

// ── Step 2: Admin ─────────────────────────────────────────────────────────────

func (w *Wizard) stepAdmin() (username, password string, err error) {
	w.step(2, "ADMIN ACCOUNT")

	for {
		username = w.prompt("Username [admin]", "admin")
		if auth.IsValidUsername(username) {
			break
		}
		fmt.Fprintln(w.out, "  "+c("\033[31m", "✗")+" Use 2-50 characters of a-z, 0-9, '.', '_' or '-'.")
	}

	for attempt := 0; attempt < 3; attempt++ {
		fmt.Fprint(w.out, "  Password: ")
		pass, err := w.password()
		if err != nil {
			return "", "", fmt.Errorf("read password: %w", err)
		}
		fmt.Fprint(w.out, "  Confirm:  ")
		confirm, err := w.password()
		if err != nil {
			return "", "", fmt.Errorf("read password confirm: %w", err)
		}
		switch {
		case pass != confirm:
			fmt.Fprintln(w.out, "  "+c("\033[31m", "✗")+" Passwords do not match. Try again.")
		case len(pass) < auth.MinPasswordLength:
			fmt.Fprintf(w.out, "  %s At least %d characters.\n", c("\033[31m", "✗"), auth.MinPasswordLength)
		default:
			return username, pass, nil
		}
	}
	return "", "", fmt.Errorf("no valid password entered")
}

// ── Step 3: Work directory and public link ───────────────────────────────────

func (w *Wizard) stepWorkDir() string {
	w.step(3, "WORK DIRECTORY")
	def := platform.DefaultWorkDir()
	fmt.Fprintf(w.out, "  Recommended for your OS:\n  %s\n\n", c("\033[36m", def))
	return filepath.Clean(w.prompt(fmt.Sprintf("Path [%s]", def), def))
}

func (w *Wizard) stepPublicURL() string {
	const def = "next-reviews-booster.com/review"
	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "  Review links are <base>/<code>. The base counts toward SMS length.")
	return strings.TrimRight(w.prompt("Review link base ["+def+"]", def), "/")
}

// ── Step 4: SMS gateway ──────────────────────────────────────────────────────

func (w *Wizard) stepTwilio(a *Answers) {
	w.step(4, "SMS GATEWAY  (Enter to skip)")
	fmt.Fprintln(w.out, "  Deployment-wide Twilio account. Accounts can set their own later.")
	fmt.Fprintln(w.out)

	a.TwilioSID = w.prompt("Account SID (Enter for dry run)", "")
	if a.TwilioSID == "" {
		a.DryRun = true
		fmt.Fprintln(w.out, "  "+c("\033[90m", "Dry run: messages are logged, not sent."))
		return
	}
	fmt.Fprint(w.out, "  Auth token: ")
	tok, err := w.password()
	if err != nil {
		tok = ""
	}
	a.TwilioToken = strings.TrimSpace(tok)
	a.TwilioFrom = w.prompt("Sender number or name", "")
}

// ── Step 5: Telegram ──────────────────────────────────────────────────────────

func (w *Wizard) stepTelegram() (token, chatID string) {
	w.step(5, "TELEGRAM  (Enter to skip)")
	fmt.Fprintln(w.out, "  Operator alerts and commands. Create a bot at https://t.me/BotFather.")
	fmt.Fprintln(w.out)

	token = w.prompt("Bot token (Enter to skip)", "")
	if token == "" {
		fmt.Fprintln(w.out, "  "+c("\033[90m", "Skipped. Set TELEGRAM_TOKEN later."))
		return "", ""
	}

	fmt.Fprint(w.out, "  Verifying token...")
	name, err := w.telegram.Verify(token)
	if err != nil {
		fmt.Fprintln(w.out)
		fmt.Fprintln(w.out, "  "+c("\033[31m", "✗")+" Token error: "+err.Error())
		fmt.Fprintln(w.out, "  "+c("\033[90m", "Saved anyway. Fix TELEGRAM_TOKEN later."))
		return token, ""
	}
	fmt.Fprintf(w.out, "\r  %s Bot: @%s\n", c("\033[32m", "✓"), name)
	fmt.Fprintf(w.out, "  Send any message to @%s. Waiting up to 3 minutes...\n", name)

	id, who, err := w.telegram.WaitForChat(token, 3*time.Minute)
	if err != nil || id == 0 {
		fmt.Fprintln(w.out, "  "+c("\033[90m", "Skipped. Set TELEGRAM_CHAT_ID later."))
		return token, ""
	}
	chatID = strconv.FormatInt(id, 10)
	fmt.Fprintf(w.out, "  %s Paired with %s (chat %s)\n", c("\033[32m", "✓"), who, chatID)
	return token, chatID
}

// ── Step 6: Confirm ───────────────────────────────────────────────────────────

func (w *Wizard) stepConfirm(a *Answers) bool {
	w.step(6, "CONFIRM")
	gateway := "dry run"
	if !a.DryRun {
		gateway = "twilio " + a.TwilioSID
	}
	rows := [][2]string{
		{"PORT", a.Port},
		{"ADMIN", a.AdminUsername},
		{"WORK DIR", a.WorkDir},
		{"LINK BASE", a.PublicURL},
		{"SMS", gateway},
		{"TELEGRAM", dash(a.TelegramToken)},
		{"CHAT ID", dash(a.TelegramChatID)},
	}
	for _, r := range rows {
		fmt.Fprintf(w.out, "  %-12s %s\n", r[0], r[1])
	}
	fmt.Fprintln(w.out)

	ans := strings.ToUpper(strings.TrimSpace(w.prompt("Save? [Y/n]", "Y")))
	return ans == "" || ans == "Y" || ans == "YES"
}

func dash(s string) string {
	if s == "" {
		return c("\033[90m", "-")
	}
	return s
}

// ── Write .env ────────────────────────────────────────────────────────────────

// WriteEnv writes the answers as KEY=value lines readable by
// config.LoadEnvFile. The file is created with mode 0600.
func WriteEnv(path string, a *Answers) error {
	lines := []string{
		"PORT=" + a.Port,
		"WORK_DIR=" + a.WorkDir,
		"DB_PATH=" + filepath.Join(a.WorkDir, "reviewbooster.db"),
		"ADMIN_USERNAME=" + a.AdminUsername,
		"ADMIN_PASSWORD=" + a.AdminPassword,
		"PUBLIC_REVIEW_URL=" + a.PublicURL,
		"SMS_DRY_RUN=" + strconv.FormatBool(a.DryRun),
		"TWILIO_ACCOUNT_SID=" + a.TwilioSID,
		"TWILIO_AUTH_TOKEN=" + a.TwilioToken,
		"TWILIO_FROM=" + a.TwilioFrom,
		"TELEGRAM_TOKEN=" + a.TelegramToken,
		"TELEGRAM_CHAT_ID=" + a.TelegramChatID,
		"SESSION_EXPIRY_HOURS=24",
		"BRUTE_FORCE_MAX_ATTEMPTS=5",
		"BRUTE_FORCE_BLOCK_MINUTES=15",
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		return fmt.Errorf("WriteEnv: %w", err)
	}
	return nil
}

// ── Dashboard URLs ────────────────────────────────────────────────────────────

// PrintDashboardURLs prints LAN IPs + localhost. Called on every start.
func PrintDashboardURLs(out io.Writer, port string) {
	var urls []string
	if ifaces, err := net.Interfaces(); err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
				continue
			}
			addrs, _ := iface.Addrs()
			for _, addr := range addrs {
				if ipn, ok := addr.(*net.IPNet); ok {
					if ip4 := ipn.IP.To4(); ip4 != nil && !ip4.IsLoopback() {
						urls = append(urls, fmt.Sprintf("http://%s:%s", ip4, port))
					}
				}
			}
		}
	}
	urls = append(urls, fmt.Sprintf("http://localhost:%s", port))

	fmt.Fprintln(out)
	fmt.Fprintf(out, "  API → %s/api/v1\n", urls[0])
	for _, u := range urls[1:] {
		fmt.Fprintf(out, "        %s/api/v1\n", u)
	}
	fmt.Fprintln(out)
}

// ── Telegram ──────────────────────────────────────────────────────────────────

type botAPIProbe struct{}

func (botAPIProbe) Verify(token string) (string, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return "", err
	}
	return bot.Self.UserName, nil
}

func (botAPIProbe) WaitForChat(token string, timeout time.Duration) (int64, string, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return 0, "", err
	}
	deadline := time.Now().Add(timeout)
	offset := 0
	for time.Now().Before(deadline) {
		u := tgbotapi.NewUpdate(offset)
		u.Timeout = 25
		u.Limit = 1
		updates, err := bot.GetUpdates(u)
		if err != nil {
			time.Sleep(2 * time.Second)
			continue
		}
		for _, upd := range updates {
			offset = upd.UpdateID + 1
			if upd.Message != nil && upd.Message.Chat != nil {
				name := ""
				if upd.Message.From != nil {
					name = upd.Message.From.FirstName
				}
				return upd.Message.Chat.ID, name, nil
			}
		}
	}
	return 0, "", fmt.Errorf("timeout")
}

// ── Input helpers ─────────────────────────────────────────────────────────────

func (w *Wizard) prompt(label, defaultVal string) string {
	fmt.Fprintf(w.out, "  %s: ", label)
	line, _ := w.in.ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return defaultVal
	}
	return strings.TrimSpace(line)
}

func (w *Wizard) readPassword() (string, error) {
	line, err := w.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func supportsColor() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func c(ansi, text string) string {
	if !supportsColor() {
		return text
	}
	return ansi + text + "\033[0m"
}

// RandomPassword returns a hex password of 2n characters.
func RandomPassword(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("RandomPassword: %w", err)
	}
	return hex.EncodeToString(b), nil
}
