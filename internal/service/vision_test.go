package service

import "testing"

func TestParseAnalysis(t *testing.T) {
	const body = `{"item_type":"vestido","color":"azul marinho","material":"algodão","pattern":"liso","style":"casual","description":"Vestido midi azul marinho.","tags":["vestido","azul","midi"]}`

	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{name: "plain json", content: body},
		{name: "fenced json", content: "```json\n" + body + "\n```"},
		{name: "fenced without language", content: "```\n" + body + "\n```"},
		{name: "surrounding whitespace", content: "  \n" + body + "\n  "},
		{name: "prose instead of json", content: "Esta é uma foto de um vestido azul.", wantErr: true},
		{name: "empty", content: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAnalysis(tt.content)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseAnalysis: %v", err)
			}
			if got.ItemType != "vestido" || got.Color != "azul marinho" {
				t.Errorf("parsed = %+v", got)
			}
			if len(got.Tags) != 3 {
				t.Errorf("tags = %v", got.Tags)
			}
		})
	}
}
