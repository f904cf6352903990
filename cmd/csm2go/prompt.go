package main

import (
	"github.com/charmbracelet/huh"
)

func runWithHelp(fields ...huh.Field) error {
	return huh.NewForm(huh.NewGroup(fields...)).WithShowHelp(true).Run()
}

// promptToken asks for a Hugging Face access token. The input is echoed so
// pasted tokens can be checked.
func promptToken() (string, error) {
	var value string
	inp := huh.NewInput().
		Title("Hugging Face token").
		Description("Create one at https://huggingface.co/settings/tokens").
		Value(&value)

	if err := runWithHelp(inp); err != nil {
		return "", err
	}
	return value, nil
}
