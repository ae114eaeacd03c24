package fonts

import "testing"

func TestData(t *testing.T) {
	for _, name := range Names() {
		data, err := Data(name)
		if err != nil || len(data) == 0 {
			t.Errorf("Data(%q) = %d bytes, %v", name, len(data), err)
		}
	}
	if _, err := Data(""); err != nil {
		t.Errorf("default font: %v", err)
	}
	if _, err := Data("comic-sans"); err == nil {
		t.Error("expected error for unknown font")
	}
}
