package repohost

import (
	"context"
	"fmt"
	"sort"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/storage/memory"
)

// Refs lists the advertised branch and tag names of a remote
// repository.
type Refs struct {
	Branches []string `json:"branches"`
	Tags     []string `json:"tags"`
}

// ListRemoteRefs asks the remote for its refs without cloning,
// equivalent to git ls-remote. Works against any URL go-git can
// reach, local paths included.
func ListRemoteRefs(ctx context.Context, cloneURL string) (Refs, error) {
	remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{cloneURL},
	})

	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return Refs{}, fmt.Errorf("list remote refs %s: %w", cloneURL, err)
	}

	out := Refs{Branches: []string{}, Tags: []string{}}
	for _, ref := range refs {
		name := ref.Name()
		switch {
		case name.IsBranch():
			out.Branches = append(out.Branches, name.Short())
		case name.IsTag():
			out.Tags = append(out.Tags, name.Short())
		}
	}
	sort.Strings(out.Branches)
	sort.Strings(out.Tags)
	return out, nil
}
