package bouncer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func TestResolveConfigurations(t *testing.T) {
	candidates := []*Configuration{
		{ID: "conf-new", Type: ConfigTypeNew},
		{ID: "conf-reported", Type: ConfigTypeReported},
		{ID: "conf-premod", Type: ConfigTypePremod},
	}

	cases := []struct {
		name    string
		status  string
		source  string
		want    []string
		wantErr error
	}{{
		name:   "new comment",
		status: StatusNew,
		source: SourceComment,
		want:   []string{"conf-new"},
	}, {
		name:   "premoderated comment",
		status: StatusPremod,
		source: SourceComment,
		want:   []string{"conf-new", "conf-premod"},
	}, {
		name:   "withheld comment",
		status: StatusSystemWithheld,
		source: SourceComment,
		want:   []string{"conf-new", "conf-reported"},
	}, {
		name:   "accepted comment",
		status: StatusAccepted,
		source: SourceComment,
		want:   []string{"conf-new"},
	}, {
		name:   "flag on unmoderated comment",
		status: StatusNone,
		source: SourceFlag,
		want:   []string{"conf-reported"},
	}, {
		name:   "flag on triaged comment",
		status: StatusAccepted,
		source: SourceFlag,
		want:   nil,
	}, {
		name:   "flag on new comment",
		status: StatusNew,
		source: SourceFlag,
		want:   nil,
	}, {
		name:    "unknown source",
		status:  StatusNew,
		source:  "like",
		wantErr: ErrInvalidSource,
	}}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveConfigurations(candidates, &Comment{ID: "c1", Status: tc.status}, tc.source)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("got error %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			var gotIDs []string
			for _, c := range got {
				gotIDs = append(gotIDs, c.ID)
			}
			if diff := cmp.Diff(tc.want, gotIDs); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveConfigurationsSkipsDisabled(t *testing.T) {
	candidates := []*Configuration{
		{ID: "conf-live", Type: ConfigTypeNew},
		{ID: "conf-dead", Type: ConfigTypeNew, Disabled: true},
	}
	got, err := ResolveConfigurations(candidates, &Comment{Status: StatusNew}, SourceComment)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "conf-live" {
		t.Errorf("got %v, want only conf-live", got)
	}
}
