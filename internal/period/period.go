// Package period は勤怠統計とタスク一覧で共有する暦日・期間の計算を提供する。
//
// 暦日はUTC 0時のtime.Timeで表現する。タイムゾーン依存の「今日」は
// DateOfで一度だけ暦日に変換し、それ以降の計算はすべてUTCの日境界で行う。
package period

import (
	"fmt"
	"math"
	"time"
)

// DateLayout はAPIとDBで使用する日付フォーマット。
const DateLayout = "2006-01-02"

// Range は両端を含む暦日の期間。
// From > To の逆転した期間も保持でき、その場合の日数は0。
type Range struct {
	From time.Time
	To   time.Time
}

// DateOf はtをlocで見た暦日に変換する。locがnilの場合はUTCを使用する。
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MonthOf は暦日dを含む月の初日から末日までを返す。
func MonthOf(d time.Time) Range {
	y, m, _ := d.Date()
	first := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return Range{From: first, To: last}
}

// ParseDate は YYYY-MM-DD 形式の文字列を暦日に変換する。
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// ParseRange はfrom/to文字列から期間を組み立てる。
// 空文字の端点はdefの値を使う。逆転した期間はエラーにしない。
func ParseRange(from, to string, def Range) (Range, error) {
	r := def
	if from != "" {
		t, err := ParseDate(from)
		if err != nil {
			return Range{}, err
		}
		r.From = t
	}
	if to != "" {
		t, err := ParseDate(to)
		if err != nil {
			return Range{}, err
		}
		r.To = t
	}
	return r, nil
}

// Days は期間に含まれる日数を返す。From > To の場合は0。
// time.Durationは約292年で飽和するため、Unix秒の差で数える。
func (r Range) Days() int {
	if r.From.After(r.To) {
		return 0
	}
	return int((r.To.Unix()-r.From.Unix())/secondsPerDay) + 1
}

const secondsPerDay = 24 * 60 * 60

// Contains は暦日dが期間内かどうかを返す。
func (r Range) Contains(d time.Time) bool {
	return !d.Before(r.From) && !d.After(r.To)
}

// String はログ出力用の表現を返す。
func (r Range) String() string {
	return r.From.Format(DateLayout) + ".." + r.To.Format(DateLayout)
}

// Percent はpart/total*100を整数に丸めて返す。totalが0以下なら0。
func Percent(part, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}

// Hours は秒数を時間に換算し、小数点以下2桁に丸める。
func Hours(seconds int64) float64 {
	return math.Round(float64(seconds)/3600*100) / 100
}

// ElapsedSeconds はfromからtoまでの経過秒数（切り捨て）を返す。
// 時計の巻き戻りで負になる場合は0に丸める。
func ElapsedSeconds(from, to time.Time) int64 {
	d := to.Sub(from)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}
