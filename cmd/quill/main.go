package main

import "github.com/quillsocial/quill/internal/cli"

func main() {
	cli.Execute()
}
