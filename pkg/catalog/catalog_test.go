package catalog

import "testing"

func entries() []*Content {
	return []*Content{
		{ID: 1, Name: "小星星", Type: TypeMusic, Artist: "儿歌", URL: "http://cdn/1.mp3"},
		{ID: 2, Name: "小星星变奏曲", Type: TypeMusic, Artist: "莫扎特", URL: "http://cdn/2.mp3"},
		{ID: 3, Name: "白雪公主", Type: TypeStory, URL: "http://cdn/3.mp3"},
		{ID: 4, Name: "小星星英文版", Type: TypeMusic, Artist: "儿歌", URL: "http://cdn/4.mp3", Deleted: true},
		{ID: 5, Name: "晴天", Type: TypeMusic, Artist: "周杰伦", URL: "http://cdn/5.mp3"},
	}
}

func TestRank(t *testing.T) {
	t.Parallel()

	t.Run("exact name first", func(t *testing.T) {
		t.Parallel()
		got := Rank("小星星", entries(), 10)
		if len(got) < 2 {
			t.Fatalf("got %d results, want at least 2", len(got))
		}
		if got[0].ID != 1 {
			t.Errorf("top result id = %d, want 1 (exact match)", got[0].ID)
		}
	})

	t.Run("deleted entries excluded", func(t *testing.T) {
		t.Parallel()
		for _, c := range Rank("小星星", entries(), 10) {
			if c.ID == 4 {
				t.Error("deleted entry ranked")
			}
		}
	})

	t.Run("artist match", func(t *testing.T) {
		t.Parallel()
		got := Rank("周杰伦", entries(), 10)
		if len(got) == 0 || got[0].ID != 5 {
			t.Errorf("artist search = %+v, want 晴天 first", got)
		}
	})

	t.Run("limit respected", func(t *testing.T) {
		t.Parallel()
		if got := Rank("小星星", entries(), 1); len(got) != 1 {
			t.Errorf("got %d results, want 1", len(got))
		}
	})

	t.Run("unrelated keyword yields nothing", func(t *testing.T) {
		t.Parallel()
		if got := Rank("完全无关的词语啊", entries(), 10); len(got) != 0 {
			t.Errorf("got %+v, want empty", got)
		}
	})

	t.Run("empty keyword", func(t *testing.T) {
		t.Parallel()
		if got := Rank("", entries(), 10); got != nil {
			t.Errorf("got %+v, want nil", got)
		}
	})
}

func TestPlayable(t *testing.T) {
	t.Parallel()
	cases := []struct {
		c    *Content
		want bool
	}{
		{&Content{URL: "http://cdn/x.mp3"}, true},
		{&Content{}, false},
		{&Content{URL: "http://cdn/x.mp3", Deleted: true}, false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := tc.c.Playable(); got != tc.want {
			t.Errorf("Playable(%+v) = %v, want %v", tc.c, got, tc.want)
		}
	}
}

func TestTypeIsValid(t *testing.T) {
	t.Parallel()
	for _, typ := range []Type{TypeStory, TypeMusic, TypeEnglish} {
		if !typ.IsValid() {
			t.Errorf("%q should be valid", typ)
		}
	}
	if Type("podcast").IsValid() {
		t.Error("unknown type reported valid")
	}
}
