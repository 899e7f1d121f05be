package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakePage_DelayedElement(t *testing.T) {
	page := NewFakePage("http://matomo.local/", "Matomo")
	page.Add(&FakeElement{Selectors: []string{"#login-0"}, Delay: 30 * time.Millisecond})

	n, err := page.Locator("#login-0").Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.Eventually(t, func() bool {
		n, _ := page.Locator("#login-0").Count()
		return n == 1
	}, time.Second, 5*time.Millisecond)
}

func TestFakePage_SelectorListAndFill(t *testing.T) {
	page := NewFakePage("http://matomo.local/", "Matomo")
	input := &FakeElement{Selectors: []string{"input[name='login']"}}
	page.Add(input)

	loc := page.Locator("#login-0, input[name='login']").First()
	require.NoError(t, loc.Fill("admin"))
	assert.Equal(t, "admin", input.Value)
}

func TestFakePage_SelectOption(t *testing.T) {
	page := NewFakePage("http://matomo.local/", "Matomo")
	sel := &FakeElement{Selectors: []string{"#timezone-0"}, Options: []string{"UTC", "Europe/Berlin"}}
	page.Add(sel)

	require.NoError(t, page.Locator("#timezone-0").SelectOption("Europe/Berlin"))
	assert.Equal(t, "Europe/Berlin", sel.Value)
	assert.Error(t, page.Locator("#timezone-0").SelectOption("Mars/Olympus"))
}

func TestFakePage_Dialogs(t *testing.T) {
	page := NewFakePage("http://matomo.local/", "Matomo")
	assert.False(t, page.RaiseDialog())

	disarm := page.AcceptDialogs()
	assert.True(t, page.RaiseDialog())
	disarm()
	assert.False(t, page.RaiseDialog())
	assert.Equal(t, 3, page.Dialogs())
}

func TestFakePage_NavigateReplacesElements(t *testing.T) {
	page := NewFakePage("http://matomo.local/index.php?action=welcome", "Welcome")
	old := &FakeElement{Role: "link", Name: "Next »"}
	page.Add(old)

	page.Navigate("http://matomo.local/index.php?action=systemCheck", "System check",
		&FakeElement{Role: "button", Name: "Next »"})

	n, _ := page.GetByRole("link", "Next »", true).Count()
	assert.Equal(t, 0, n)
	n, _ = page.GetByRole("button", "Next »", true).Count()
	assert.Equal(t, 1, n)
	assert.Equal(t, "http://matomo.local/index.php?action=systemCheck", page.URL())
}
