package model

import "testing"

func TestJobValidate(t *testing.T) {
	cases := []struct {
		name    string
		job     Job
		wantErr bool
	}{
		{"valid script job", Job{ID: "j1", Script: "run.js", Type: JobScript, OverlapPolicy: OverlapSkip}, false},
		{"valid session job", Job{ID: "j2", Script: "prompt.md", Type: JobSession, OverlapPolicy: OverlapAllow}, false},
		{"missing id", Job{Script: "run.js", Type: JobScript}, true},
		{"missing script", Job{ID: "j3", Type: JobScript}, true},
		{"invalid type", Job{ID: "j4", Script: "run.js", Type: "bogus"}, true},
		{"invalid overlap policy", Job{ID: "j5", Script: "run.js", Type: JobScript, OverlapPolicy: "bogus"}, true},
		{"empty overlap policy allowed", Job{ID: "j6", Script: "run.js", Type: JobScript, OverlapPolicy: ""}, false},
		{"queue overlap policy accepted", Job{ID: "j7", Script: "run.js", Type: JobScript, OverlapPolicy: OverlapQueue}, false},
	}
	for _, c := range cases {
		err := c.job.Validate()
		if c.wantErr && err == nil {
			t.Errorf("%s: expected error, got nil", c.name)
		}
		if !c.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", c.name, err)
		}
	}
}
