package curriculum

// UnitID identifies a unit. Unit ids ascend in curriculum order.
type UnitID int

// LessonID identifies a lesson. Lesson ids are unique across units and ascend in
// curriculum order.
type LessonID int

// Curriculum is the immutable shape of the course loaded from YAML.
type Curriculum struct {
	Version            string    `yaml:"version" json:"version"`
	PassingScore       int       `yaml:"passing_score" json:"passingScore"`
	DailyUnitTestLimit int       `yaml:"daily_unit_test_limit" json:"dailyUnitTestLimit"`
	Units              []Unit    `yaml:"units" json:"units"`
	FinalTest          FinalTest `yaml:"final_test" json:"finalTest"`

	units       map[UnitID]int
	lessons     map[LessonID]lessonRef
	lessonCount int
}

// Unit is a group of lessons culminating in a unit test.
type Unit struct {
	ID       UnitID   `yaml:"id" json:"id"`
	Title    string   `yaml:"title" json:"title"`
	Lessons  []Lesson `yaml:"lessons" json:"lessons"`
	UnitTest Test     `yaml:"unit_test" json:"unitTest"`
}

// Lesson is an atomic content item with a quiz.
type Lesson struct {
	ID       LessonID `yaml:"id" json:"id"`
	Title    string   `yaml:"title" json:"title"`
	MaxXP    int      `yaml:"max_xp" json:"maxXp"`
	MaxCoins int      `yaml:"max_coins" json:"maxCoins"`
}

// Test holds the reward maxima of a unit test.
type Test struct {
	MaxXP    int `yaml:"max_xp" json:"maxXp"`
	MaxCoins int `yaml:"max_coins" json:"maxCoins"`
}

// FinalTest is the cross-unit test. It can be bought open with coins.
type FinalTest struct {
	Test       `yaml:",inline"`
	UnlockCost int `yaml:"unlock_cost" json:"unlockCost"`
}

// lessonRef locates a lesson by unit index and lesson index.
type lessonRef struct {
	unit   int
	lesson int
}
