package progress

// Grant is the outcome of applying a score to a reward ledger line.
type Grant struct {
	// Delta is the amount to credit to the running totals.
	Delta Reward `json:"delta"`
	// Issued is the new high-water mark.
	Issued Reward `json:"rewardIssued"`
	// Remaining is what is still obtainable before the maximum is reached.
	Remaining Reward `json:"remaining"`
}

// ApplyScore computes the reward earned by score against ceiling, given what was
// already issued. Replaying a score grants nothing; a higher score tops up the difference.
func ApplyScore(ceiling, issued Reward, score int) Grant {
	score = clampScore(score)
	total := Reward{
		XP:    ceiling.XP * score / 100,
		Coins: ceiling.Coins * score / 100,
	}

	g := Grant{
		Delta: Reward{
			XP:    nonNegative(total.XP - issued.XP),
			Coins: nonNegative(total.Coins - issued.Coins),
		},
		Issued: Reward{
			XP:    max(issued.XP, total.XP),
			Coins: max(issued.Coins, total.Coins),
		},
	}
	g.Remaining = Remaining(ceiling, g.Issued)
	return g
}

// Remaining returns ceiling minus issued, floored at zero.
func Remaining(ceiling, issued Reward) Reward {
	return Reward{
		XP:    nonNegative(ceiling.XP - issued.XP),
		Coins: nonNegative(ceiling.Coins - issued.Coins),
	}
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
