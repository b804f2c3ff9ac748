package project_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"triagedesk.app/triage/internal/project"
)

const config = `{
  "projects": [
    {
      "name": "core",
      "maintainers": [{"id": 1, "chat_handle": "UMAINT", "forge_handle": "maint"}],
      "channels": [
        {"id": "C1", "name": "support", "grouping_window_minutes": 0},
        {"id": "C2", "name": "oncall", "grouping_window_minutes": 15}
      ],
      "repositories": ["group/app"],
      "managers": ["UMGR"],
      "allowed_bots": ["BALLOW"]
    }
  ]
}`

var _ = Describe("Service", func() {
	var (
		path string
		svc  *project.Service
	)

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "projects.json")
		Expect(os.WriteFile(path, []byte(config), 0o600)).To(Succeed())

		var err error
		svc, err = project.NewService(path)
		Expect(err).NotTo(HaveOccurred())
	})

	It("fails on a missing config file", func() {
		_, err := project.NewService(filepath.Join(GinkgoT().TempDir(), "absent.json"))
		Expect(err).To(HaveOccurred())
	})

	It("tracks configured channels and nothing else", func() {
		ch, ok := svc.Channel("C2")
		Expect(ok).To(BeTrue())
		Expect(ch.Name).To(Equal("oncall"))

		_, ok = svc.Channel("C9")
		Expect(ok).To(BeFalse())
	})

	It("converts the grouping window to a duration", func() {
		window, ok := svc.GroupingWindow("C2")
		Expect(ok).To(BeTrue())
		Expect(window).To(Equal(15 * time.Minute))

		window, ok = svc.GroupingWindow("C1")
		Expect(ok).To(BeTrue())
		Expect(window).To(BeZero())
	})

	It("resolves maintainers by channel and by repository", func() {
		byChannel := svc.MaintainersForChannel("C1")
		Expect(byChannel).To(HaveLen(1))
		Expect(byChannel[0].ChatHandle).To(Equal("UMAINT"))

		byRepo := svc.MaintainersForRepo("group/app")
		Expect(byRepo).To(HaveLen(1))
		Expect(byRepo[0].ForgeHandle).To(Equal("maint"))

		Expect(svc.MaintainersForChannel("C9")).To(BeNil())
		Expect(svc.MaintainersForRepo("group/other")).To(BeNil())
	})

	It("finds the owning project for a repository", func() {
		p, ok := svc.ProjectForRepo("group/app")
		Expect(ok).To(BeTrue())
		Expect(p.Name).To(Equal("core"))

		_, ok = svc.ProjectForRepo("group/other")
		Expect(ok).To(BeFalse())
	})

	It("gates admin commands on the manager list", func() {
		Expect(svc.IsManager("UMGR")).To(BeTrue())
		Expect(svc.IsManager("UMAINT")).To(BeFalse())
	})

	It("recognizes channel maintainers by chat handle", func() {
		Expect(svc.IsChannelMaintainer("C1", "UMAINT")).To(BeTrue())
		Expect(svc.IsChannelMaintainer("C1", "U2")).To(BeFalse())
		Expect(svc.IsChannelMaintainer("C9", "UMAINT")).To(BeFalse())
	})

	It("only ingests messages from allow-listed bots", func() {
		Expect(svc.IsAllowedBot("BALLOW")).To(BeTrue())
		Expect(svc.IsAllowedBot("BROGUE")).To(BeFalse())
	})

	It("picks up config edits on Reload", func() {
		edited := `{"projects": [{"name": "core", "channels": [{"id": "C3", "name": "new"}], "managers": ["UOTHER"]}]}`
		Expect(os.WriteFile(path, []byte(edited), 0o600)).To(Succeed())

		Expect(svc.Reload()).To(Succeed())

		_, ok := svc.Channel("C1")
		Expect(ok).To(BeFalse())
		_, ok = svc.Channel("C3")
		Expect(ok).To(BeTrue())
		Expect(svc.IsManager("UMGR")).To(BeFalse())
		Expect(svc.IsManager("UOTHER")).To(BeTrue())
	})

	It("keeps serving the old snapshot when a reload fails", func() {
		Expect(os.WriteFile(path, []byte("{not json"), 0o600)).To(Succeed())

		Expect(svc.Reload()).To(HaveOccurred())

		_, ok := svc.Channel("C1")
		Expect(ok).To(BeTrue())
	})
})
