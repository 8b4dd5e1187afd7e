package driver

import (
	"sort"

	"github.com/hanfei1991/batcher/model"
)

// SelectTargets picks up to count targets worth scheduling against: rooted,
// within the player's level and holding any value. Richer targets come
// first; ties keep the candidate order.
func SelectTargets(candidates []model.TargetInfo, playerLevel, count int) []model.TargetID {
	eligible := make([]model.TargetInfo, 0, len(candidates))
	for _, c := range candidates {
		if !c.Rooted || c.RequiredLevel > playerLevel || c.MaxValue <= 0 {
			continue
		}
		eligible = append(eligible, c)
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].MaxValue > eligible[j].MaxValue
	})
	if count > 0 && len(eligible) > count {
		eligible = eligible[:count]
	}
	ret := make([]model.TargetID, 0, len(eligible))
	for _, c := range eligible {
		ret = append(ret, c.ID)
	}
	return ret
}
