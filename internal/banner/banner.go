package banner

import (
	"steadyvu/internal/tui/styles"

	"github.com/charmbracelet/lipgloss"
)

func GetString() string {
	renderer := lipgloss.DefaultRenderer()

	style := renderer.NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)

	ascii := `
   _____ __                 __      _    ____  __
  / ___// /____  ____ _____/ /_  _| |  / / / / /
  \__ \/ __/ _ \/ __ '/ __  / / / / | / / / / /
 ___/ / /_/  __/ /_/ / /_/ / /_/ /| |/ / /_/ /
/____/\__/\___/\__,_/\__,_/\__, / |___/\____/
                          /____/                `

	return "\n" + style.Render(ascii) + "\n" + renderer.NewStyle().Foreground(styles.ColorSubtle).Render("  staged virtual-user load testing") + "\n"
}
