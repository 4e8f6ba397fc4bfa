package matcher

import "testing"

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		wantRaw  string
		wantBase string
		wantSeq  string
	}{
		{
			name:     "numeric suffix underscore",
			filename: "SKU100_01.jpg",
			wantRaw:  "SKU100_01",
			wantBase: "SKU100",
			wantSeq:  "01",
		},
		{
			name:     "numeric suffix single digit",
			filename: "SKU100_1.jpg",
			wantRaw:  "SKU100_1",
			wantBase: "SKU100",
			wantSeq:  "1",
		},
		{
			name:     "numeric suffix second shot",
			filename: "SKU100_02.jpg",
			wantRaw:  "SKU100_02",
			wantBase: "SKU100",
			wantSeq:  "02",
		},
		{
			name:     "letter suffix dash",
			filename: "VRN25-0101-A.png",
			wantRaw:  "VRN25-0101-A",
			wantBase: "VRN25-0101",
			wantSeq:  "A",
		},
		{
			name:     "letter suffix B",
			filename: "VRN25-0101-B.png",
			wantRaw:  "VRN25-0101-B",
			wantBase: "VRN25-0101",
			wantSeq:  "B",
		},
		{
			name:     "named angle frente",
			filename: "CAMISA-123_FRENTE.jpg",
			wantRaw:  "CAMISA-123_FRENTE",
			wantBase: "CAMISA-123",
			wantSeq:  "FRENTE",
		},
		{
			name:     "named angle costas",
			filename: "CAMISA-123_COSTAS.jpg",
			wantRaw:  "CAMISA-123_COSTAS",
			wantBase: "CAMISA-123",
			wantSeq:  "COSTAS",
		},
		{
			name:     "named angle lowercase",
			filename: "camisa-123_frente.jpg",
			wantRaw:  "camisa-123_frente",
			wantBase: "camisa-123",
			wantSeq:  "frente",
		},
		{
			name:     "no suffix",
			filename: "SKU200.png",
			wantRaw:  "SKU200",
			wantBase: "SKU200",
			wantSeq:  "",
		},
		{
			name:     "no suffix with internal digits",
			filename: "AB1234CD.webp",
			wantRaw:  "AB1234CD",
			wantBase: "AB1234CD",
			wantSeq:  "",
		},
		{
			name:     "directory components stripped",
			filename: "upload/tmp/SKU300_03.jpg",
			wantRaw:  "SKU300_03",
			wantBase: "SKU300",
			wantSeq:  "03",
		},
		{
			name:     "double extension keeps inner dot",
			filename: "SKU400.final_01.jpg",
			wantRaw:  "SKU400.final_01",
			wantBase: "SKU400.final",
			wantSeq:  "01",
		},
		{
			name:     "four digit trailing number is not a sequence",
			filename: "VRN25-0101.jpg",
			wantRaw:  "VRN25-0101",
			wantBase: "VRN25-0101",
			wantSeq:  "",
		},
		{
			name:     "no extension",
			filename: "SKU500_02",
			wantRaw:  "SKU500_02",
			wantBase: "SKU500",
			wantSeq:  "02",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.filename)
			if got.RawSKU != tt.wantRaw {
				t.Errorf("RawSKU = %q, want %q", got.RawSKU, tt.wantRaw)
			}
			if got.BaseSKU != tt.wantBase {
				t.Errorf("BaseSKU = %q, want %q", got.BaseSKU, tt.wantBase)
			}
			if got.Sequence != tt.wantSeq {
				t.Errorf("Sequence = %q, want %q", got.Sequence, tt.wantSeq)
			}
		})
	}
}

func TestExtractDeterministic(t *testing.T) {
	first := Extract("VRN25-0101_FRENTE.jpg")
	for i := 0; i < 100; i++ {
		if got := Extract("VRN25-0101_FRENTE.jpg"); got != first {
			t.Fatalf("iteration %d: got %+v, want %+v", i, got, first)
		}
	}
}

func TestNormalizeSKU(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"sku100", "SKU100"},
		{"  VRN25-0101 ", "VRN25-0101"},
		{"MiXeD-01", "MIXED-01"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeSKU(tt.in); got != tt.want {
			t.Errorf("NormalizeSKU(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
