// Command textplugin is a sample WASM module for the modules registry.
// Build it with
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o text.wasm .
//
// and put text.wasm on a WASM search path; snippets then `import text` and
// call its exports with keyword arguments, which arrive as a JSON object.
package main

import (
	"errors"
	"strings"

	"github.com/extism/go-pdk"
)

type textInput struct {
	Text string `json:"text"`
}

// VowelCount is the result of count_vowels.
type VowelCount struct {
	Count int    `json:"count"`
	Text  string `json:"text"`
}

func readText() (string, error) {
	var in textInput
	if err := pdk.InputJSON(&in); err != nil {
		return "", err
	}
	if in.Text == "" {
		return "", errors.New("text is empty")
	}
	return in.Text, nil
}

//go:wasmexport greet
func greet() int32 {
	text, err := readText()
	if err != nil {
		pdk.SetError(err)
		return 1
	}
	if err := pdk.OutputJSON(map[string]string{"greeting": "Hello, " + text + "!"}); err != nil {
		pdk.SetError(err)
		return 1
	}
	return 0
}

//go:wasmexport count_vowels
func countVowels() int32 {
	text, err := readText()
	if err != nil {
		pdk.SetError(err)
		return 1
	}
	count := 0
	for _, c := range text {
		if strings.ContainsRune("aeiouAEIOU", c) {
			count++
		}
	}
	if err := pdk.OutputJSON(VowelCount{Count: count, Text: text}); err != nil {
		pdk.SetError(err)
		return 1
	}
	return 0
}

// reverse returns plain text rather than JSON.
//
//go:wasmexport reverse
func reverse() int32 {
	text, err := readText()
	if err != nil {
		pdk.SetError(err)
		return 1
	}
	runes := []rune(text)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	pdk.OutputString(string(runes))
	return 0
}

func main() {}
