package progress

import "testing"

func TestApplyScore_TopUp(t *testing.T) {
	ceiling := Reward{XP: 25, Coins: 15}
	steps := []struct {
		score  int
		delta  Reward
		issued Reward
	}{
		{60, Reward{15, 9}, Reward{15, 9}},
		{80, Reward{5, 3}, Reward{20, 12}},
		{100, Reward{5, 3}, Reward{25, 15}},
		{100, Reward{0, 0}, Reward{25, 15}},
	}

	var issued Reward
	for _, s := range steps {
		g := ApplyScore(ceiling, issued, s.score)
		if g.Delta != s.delta {
			t.Errorf("score %d: Delta = %+v, want %+v", s.score, g.Delta, s.delta)
		}
		if g.Issued != s.issued {
			t.Errorf("score %d: Issued = %+v, want %+v", s.score, g.Issued, s.issued)
		}
		issued = g.Issued
	}
	if got := ApplyScore(ceiling, issued, 100).Remaining; got != (Reward{}) {
		t.Errorf("Remaining after a perfect score = %+v, want zero", got)
	}
}

func TestApplyScore_LowerScoreGrantsNothing(t *testing.T) {
	ceiling := Reward{XP: 40, Coins: 25}
	first := ApplyScore(ceiling, Reward{}, 90)
	second := ApplyScore(ceiling, first.Issued, 30)

	if second.Delta != (Reward{}) {
		t.Errorf("Delta = %+v, want zero", second.Delta)
	}
	if second.Issued != first.Issued {
		t.Errorf("Issued = %+v, want %+v", second.Issued, first.Issued)
	}
	if want := (Reward{XP: 4, Coins: 3}); second.Remaining != want {
		t.Errorf("Remaining = %+v, want %+v", second.Remaining, want)
	}
}

func TestApplyScore_SumOfDeltasMatchesBestScore(t *testing.T) {
	ceiling := Reward{XP: 35, Coins: 20}
	scores := []int{10, 33, 33, 50, 71, 71, 99}

	var issued, credited Reward
	for _, s := range scores {
		g := ApplyScore(ceiling, issued, s)
		credited.XP += g.Delta.XP
		credited.Coins += g.Delta.Coins
		if g.Issued.XP < issued.XP || g.Issued.Coins < issued.Coins {
			t.Errorf("score %d: Issued decreased from %+v to %+v", s, issued, g.Issued)
		}
		if g.Issued.XP > ceiling.XP || g.Issued.Coins > ceiling.Coins {
			t.Errorf("score %d: Issued %+v exceeds ceiling %+v", s, g.Issued, ceiling)
		}
		issued = g.Issued
	}

	if want := (Reward{XP: 35 * 99 / 100, Coins: 20 * 99 / 100}); credited != want {
		t.Errorf("sum of deltas = %+v, want %+v", credited, want)
	}
}

func TestApplyScore_ClampsOutOfRange(t *testing.T) {
	ceiling := Reward{XP: 10, Coins: 10}
	if got := ApplyScore(ceiling, Reward{}, 250).Issued; got != ceiling {
		t.Errorf("score 250: Issued = %+v, want %+v", got, ceiling)
	}
	if got := ApplyScore(ceiling, Reward{}, -5).Issued; got != (Reward{}) {
		t.Errorf("score -5: Issued = %+v, want zero", got)
	}
}
