package cmd

import (
	"github.com/pterm/pterm"
)

// ptermPrompter は keychain.Prompter を端末の対話入力で実装します。
type ptermPrompter struct{}

func (ptermPrompter) Secret(message string) (string, error) {
	return pterm.DefaultInteractiveTextInput.WithMask("*").Show(message)
}

func (ptermPrompter) Confirm(message string) (bool, error) {
	return pterm.DefaultInteractiveConfirm.WithDefaultValue(false).Show(message)
}

func (ptermPrompter) Text(message string) (string, error) {
	return pterm.DefaultInteractiveTextInput.Show(message)
}
