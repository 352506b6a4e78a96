package export

import (
	"fmt"

	md "github.com/JohannesKaufmann/html-to-markdown"
)

func exportMarkdown(body string, title string) (*Result, error) {
	converter := md.NewConverter("", true, nil)
	out, err := converter.ConvertString(body)
	if err != nil {
		return nil, fmt.Errorf("convert to markdown: %w", err)
	}
	return &Result{
		Data:     []byte("# " + title + "\n\n" + out + "\n"),
		Filename: sanitizeFilename(title) + ".md",
		MimeType: "text/markdown; charset=utf-8",
	}, nil
}
