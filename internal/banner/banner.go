package banner

import (
	"github.com/charmbracelet/lipgloss"

	"bwprobe/internal/tui/styles"
)

func GetString() string {
	renderer := lipgloss.DefaultRenderer()

	style := renderer.NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)

	ascii := `
    __                             __
   / /_ _      ______  _________  / /_  ___
  / __ \ | /| / / __ \/ ___/ __ \/ __ \/ _ \
 / /_/ / |/ |/ / /_/ / /  / /_/ / /_/ /  __/
/_.___/|__/|__/ .___/_/   \____/_.___/\___/
             /_/                            `

	return "\n" + style.Render(ascii) + "\n"
}
