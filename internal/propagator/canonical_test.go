package propagator

import "testing"

func TestCanonicalProgramName(t *testing.T) {
	cases := map[string]string{
		"Data Processor":  "DataProcessor",
		"my_cool-program": "myCoolProgram",
		"123abc":          "Program123abc",
		"":                "UnknownProgram",
		"!!!":             "UnknownProgram",
		"Already":         "Already",
		"already":         "already",
	}
	for input, want := range cases {
		if got := CanonicalProgramName(input); got != want {
			t.Errorf("CanonicalProgramName(%q) = %q, want %q", input, got, want)
		}
	}
}
